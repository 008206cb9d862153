package service

import "errors"

var (
	ErrInvalidEmail = errors.New("invalid email")
	ErrStorage      = errors.New("storage unavailable")
	ErrDispatch     = errors.New("login link dispatch failed")

	// Verification rejections. Callers facing the public must not tell them apart.
	ErrNotFound    = errors.New("login link not found")
	ErrExpired     = errors.New("login link expired")
	ErrAlreadyUsed = errors.New("login link already used")
	ErrUnknownUser = errors.New("no user for verified email")

	ErrInvalidGame = errors.New("invalid game")
	ErrInvalidTag  = errors.New("invalid tag")
	ErrTagExists   = errors.New("tag already exists")
	ErrInvalidRole = errors.New("invalid role")
)

// IsVerificationRejection reports whether err is one of the reasons a login
// link was refused, as opposed to an infrastructure failure.
func IsVerificationRejection(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrAlreadyUsed) ||
		errors.Is(err, ErrUnknownUser)
}
