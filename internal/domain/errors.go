package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidType          = errors.New("notification type must not be empty")
	ErrInvalidPriority      = errors.New("invalid priority: must be critical, high, medium, or low")
	ErrInvalidChannel       = errors.New("invalid channel: must be realtime, push, email, or sms")
	ErrNoRecipients         = errors.New("at least one non-empty recipient is required")
	ErrEmptyContent         = errors.New("title or body must be set")
	ErrContentTooLong       = errors.New("body must not exceed 8192 characters")
	ErrExpiryBeforeSchedule = errors.New("expires_at must not be before scheduled_at")
	ErrBulkEmpty            = errors.New("bulk request must contain at least one notification")
	ErrBulkTooLarge         = errors.New("bulk request exceeds maximum batch size")
	ErrAlreadyCancelled     = errors.New("notification is already cancelled")
	ErrNotCancellable       = errors.New("notification cannot be cancelled in its current status")
	ErrQueueFull            = errors.New("dispatch lane is at capacity, try again later")
	ErrTemplateNotFound     = errors.New("no template found at any fallback level")
	ErrTemplateInvalid      = errors.New("template failed to compile")
	ErrPermanentSendFailure = errors.New("permanent send failure")
	ErrUnauthorized         = errors.New("invalid or missing credential")
	ErrRoomForbidden        = errors.New("session is not permitted to join this room")
)
