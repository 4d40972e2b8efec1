package models

import (
	"errors"
	"strings"
	"testing"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name        string
		channelID   int64
		recipientID int64
		want        Target
		wantErr     bool
	}{
		{name: "channel", channelID: 4, want: ChannelTarget(4)},
		{name: "direct", recipientID: 9, want: DirectTarget(9)},
		{name: "both set", channelID: 4, recipientID: 9, wantErr: true},
		{name: "neither set", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.channelID, tt.recipientID)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTarget) {
					t.Fatalf("expected ErrInvalidTarget, got %v", err)
				}
				if got.Valid() {
					t.Errorf("expected invalid target, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTargetLockKey(t *testing.T) {
	if DirectTarget(7).LockKey(3) != DirectTarget(3).LockKey(7) {
		t.Error("direct lock key should not depend on which side asks")
	}
	if ChannelTarget(7).LockKey(3) == DirectTarget(7).LockKey(3) {
		t.Error("channel and direct keys must not collide")
	}
	if ChannelTarget(5).LockKey(1) != ChannelTarget(5).LockKey(2) {
		t.Error("channel lock key should ignore the viewer")
	}
}

func TestZeroTargetInvalid(t *testing.T) {
	var zero Target
	if zero.Valid() || zero.IsDirect() || zero.IsChannel() {
		t.Error("zero target must be invalid")
	}
}

func TestCategoryFor(t *testing.T) {
	tests := map[string]string{
		"photo.JPG":    CategoryImage,
		"photo.jpeg":   CategoryImage,
		"anim.gif":     CategoryImage,
		"clip.webm":    CategoryVideo,
		"clip.mp4":     CategoryVideo,
		"song.mp3":     CategoryAudio,
		"memo.wav":     CategoryAudio,
		"report.pdf":   CategoryFile,
		"no_extension": CategoryFile,
	}
	for name, want := range tests {
		if got := CategoryFor(name); got != want {
			t.Errorf("CategoryFor(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestAttachmentTooLargeError(t *testing.T) {
	err := error(&AttachmentTooLargeError{Quota: 10 * MB, Size: 11 * MB})
	if !errors.Is(err, ErrAttachmentTooLarge) {
		t.Error("expected errors.Is to match ErrAttachmentTooLarge")
	}
	if err.Error() != "file size exceeds channel limit of 10MB" {
		t.Errorf("unexpected message %q", err.Error())
	}
	var tooLarge *AttachmentTooLargeError
	if !errors.As(err, &tooLarge) || tooLarge.Quota != 10*MB {
		t.Error("expected errors.As to expose the quota")
	}
}

func TestUserFallbacks(t *testing.T) {
	u := User{Username: "alice"}
	if u.Name() != "alice" {
		t.Errorf("Name() = %q, want alice", u.Name())
	}
	if u.Avatar() != DefaultUserAvatar {
		t.Errorf("Avatar() = %q, want default", u.Avatar())
	}
	u.DisplayName = "Alice A."
	if u.Name() != "Alice A." {
		t.Errorf("Name() = %q, want display name", u.Name())
	}
}

func TestCheckPhone(t *testing.T) {
	for _, phone := range []string{"", "+1 555-0100", "0123456789"} {
		if err := CheckPhone(phone); err != nil {
			t.Errorf("CheckPhone(%q) = %v", phone, err)
		}
	}
	for _, phone := range []string{"555-CALL-NOW", "1+2", "+1234567890123456"} {
		if err := CheckPhone(phone); !errors.Is(err, ErrInvalidProfile) {
			t.Errorf("CheckPhone(%q) = %v, want ErrInvalidProfile", phone, err)
		}
	}
}

func TestCheckDisplayName(t *testing.T) {
	if err := CheckDisplayName(strings.Repeat("é", MaxDisplayNameLength)); err != nil {
		t.Errorf("expected %d runes to pass, got %v", MaxDisplayNameLength, err)
	}
	for _, name := range []string{strings.Repeat("a", MaxDisplayNameLength+1), "two\nlines"} {
		if err := CheckDisplayName(name); !errors.Is(err, ErrInvalidProfile) {
			t.Errorf("CheckDisplayName(%q) = %v, want ErrInvalidProfile", name, err)
		}
	}
}
