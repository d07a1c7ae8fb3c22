package vault

import "errors"

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrOverflow           = errors.New("calculation overflow")
	ErrUnderflow          = errors.New("calculation underflow")
	ErrInsufficientFunds  = errors.New("insufficient available balance")
	ErrMath               = errors.New("math error")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrUnauthorizedProgram = errors.New("program not authorized to lock/unlock")
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrNotFound           = errors.New("vault not found")
	ErrRegistryFull       = errors.New("authority registry is full")
)
