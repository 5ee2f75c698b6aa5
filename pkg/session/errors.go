package session

import "errors"

var (
	// ErrNavigation is returned by Goto after every attempt has failed.
	ErrNavigation = errors.New("navigation failed")

	// ErrLaunch is returned when the browser process, context or page cannot
	// be created.
	ErrLaunch = errors.New("browser launch failed")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoStore is returned by operations that need an auth store when none
	// is configured.
	ErrNoStore = errors.New("no auth store configured")
)
