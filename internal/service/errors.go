package service

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every input validation failure.
var ErrValidation = errors.New("validation failed")

var (
	ErrFileRequired   = fmt.Errorf("%w: file is required", ErrValidation)
	ErrFileTooLarge   = fmt.Errorf("%w: file exceeds the upload size limit", ErrValidation)
	ErrFieldsRequired = fmt.Errorf("%w: uuid, emailTo and emailFrom are required", ErrValidation)
	ErrInvalidEmail   = fmt.Errorf("%w: invalid email address", ErrValidation)

	ErrNotFound    = errors.New("share not found")
	ErrAlreadySent = errors.New("email already sent")
	// ErrLinkExpired covers both a token that never existed and one that was swept.
	ErrLinkExpired = errors.New("link has been expired")
)

// DependencyError wraps a failure of the blob store, the record store or the template renderer.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *DependencyError) Unwrap() error { return e.Err }

// DeliveryError wraps a notification transport failure. The share is already marked as sent when it occurs.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "deliver notification: " + e.Err.Error() }

func (e *DeliveryError) Unwrap() error { return e.Err }
