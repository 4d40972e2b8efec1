package models

import (
	"errors"
	"fmt"
)

// Errors returned by the messaging core. Storage failures are wrapped and
// returned as-is; everything here is a rejected request, not a crash.
var (
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyMember      = errors.New("user is already a member of this channel")
	ErrNotAMember         = errors.New("user is not a member of this channel")
	ErrEmptyMessage       = errors.New("message needs content or an attachment")
	ErrInvalidTarget      = errors.New("invalid message target")
	ErrAttachmentTooLarge = errors.New("attachment exceeds channel limit")
	ErrNotFound           = errors.New("not found")
	ErrInvalidChannel     = errors.New("invalid channel")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidProfile     = errors.New("invalid profile")
)

// AttachmentTooLargeError carries the quota that was exceeded.
type AttachmentTooLargeError struct {
	Quota int64 // bytes
	Size  int64 // bytes
}

func (e *AttachmentTooLargeError) Error() string {
	return fmt.Sprintf("file size exceeds channel limit of %dMB", e.Quota/MB)
}

func (e *AttachmentTooLargeError) Is(target error) bool {
	return target == ErrAttachmentTooLarge
}
