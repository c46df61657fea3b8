package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing request fields.
	ErrValidation = errors.New("validation error")

	ErrUnknownActionType = fmt.Errorf("%w: unknown action_type", ErrValidation)
	ErrNoTargetKey       = fmt.Errorf("%w: message has no target key", ErrValidation)
	ErrInvalidIdentity   = fmt.Errorf("%w: malformed identity token", ErrValidation)
	ErrEmptyPartitionKey = fmt.Errorf("%w: envelope has no partition key", ErrValidation)
)
