package models

import (
	"path"
	"strings"
)

const (
	CategoryImage = "image"
	CategoryVideo = "video"
	CategoryAudio = "audio"
	CategoryFile  = "file"
)

var categoryByExt = map[string]string{
	".jpg":  CategoryImage,
	".jpeg": CategoryImage,
	".png":  CategoryImage,
	".gif":  CategoryImage,
	".mp4":  CategoryVideo,
	".webm": CategoryVideo,
	".mp3":  CategoryAudio,
	".wav":  CategoryAudio,
}

type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Category string `json:"category"`
	Digest   string `json:"digest,omitempty"`
}

// CategoryFor classifies a file by its extension only. The bytes are not
// inspected.
func CategoryFor(name string) string {
	if c, ok := categoryByExt[strings.ToLower(path.Ext(name))]; ok {
		return c
	}
	return CategoryFile
}
