package session

import "errors"

var (
	// ErrRedirectInProgress is returned when another navigation already owns the tab
	ErrRedirectInProgress = errors.New("redirect already in progress")
	// ErrTerminated is returned by operations on an instance that has logged out or been invalidated
	ErrTerminated = errors.New("session instance terminated")
	// ErrAlreadyAuthenticated is returned by Login on a signed-in instance
	ErrAlreadyAuthenticated = errors.New("session already authenticated")
	// ErrAlreadyMounted is returned by a second Mount
	ErrAlreadyMounted = errors.New("session already mounted")
)
