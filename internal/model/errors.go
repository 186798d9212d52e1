package model

import "errors"

var (
	ErrEmailNotFound = errors.New("email not found")
	// ErrNotClaimable means the email is terminal or another attempt owns it.
	ErrNotClaimable = errors.New("email not claimable")
)
