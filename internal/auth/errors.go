package auth

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrUserExists    = errors.New("user exists")
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenNotFound = errors.New("token not found")
)

// InputError carries the client-facing reason for an ErrInvalidInput failure.
type InputError struct {
	Reason string
}

func (e InputError) Error() string {
	return e.Reason
}

func (e InputError) Unwrap() error {
	return ErrInvalidInput
}

// InvalidCredentialsError is returned for both unknown identities and wrong secrets.
type InvalidCredentialsError struct {
	Remaining int
}

func (e InvalidCredentialsError) Error() string {
	return "invalid credentials"
}

type TooManyAttemptsError struct {
	Until time.Time
}

func (e TooManyAttemptsError) Error() string {
	return "too many attempts"
}

// MinutesLeft rounds the remaining lockout up to whole minutes, never below one.
func (e TooManyAttemptsError) MinutesLeft(now time.Time) int {
	left := e.Until.Sub(now)
	if left <= 0 {
		return 1
	}
	minutes := int(left / time.Minute)
	if left%time.Minute != 0 {
		minutes++
	}
	return minutes
}
