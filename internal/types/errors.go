package types

import (
	"errors"
	"fmt"
)

// TargetError is returned when a target gave up on a post.
type TargetError struct {
	Target   string
	PostID   string
	Attempts int
	Err      error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target %s: post %s failed after %d attempts: %v", e.Target, e.PostID, e.Attempts, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

func IsTargetError(err error) bool {
	var te *TargetError
	return errors.As(err, &te)
}

func NewTargetError(target, postID string, attempts int, err error) *TargetError {
	return &TargetError{
		Target:   target,
		PostID:   postID,
		Attempts: attempts,
		Err:      err,
	}
}
