package idp

import "errors"

var (
	ErrNotFound           = errors.New("idp: not found")
	ErrAlreadyRegistered  = errors.New("idp: user already registered")
	ErrInvalidCredentials = errors.New("idp: invalid login credentials")
	ErrInvalidInput       = errors.New("idp: invalid input")
)
