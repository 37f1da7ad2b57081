package app

import "errors"

var (
	// ErrInvalidCredentials is returned for any login mismatch. One constant
	// message for unknown email and wrong password, so callers cannot
	// enumerate accounts.
	ErrInvalidCredentials = errors.New("incorrect email address or password")

	ErrDisplayNameRequired      = errors.New("display name required")
	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrEmailAlreadyExists       = errors.New("email already exists")
	ErrFileNameRequired         = errors.New("file name required")

	// ErrChatNotFound covers both a missing chat and a chat owned by someone
	// else: an unauthorized caller sees the same result as a nonexistent chat.
	ErrChatNotFound = errors.New("chat not found")

	ErrAccountNotFound = errors.New("account not found")
)
