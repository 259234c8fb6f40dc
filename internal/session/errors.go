package session

import "errors"

var (
	// ErrMalformedToken is returned when a token cannot be decoded.
	// Callers treat it as an expired token and never show it to the user.
	ErrMalformedToken = errors.New("malformed token")
	// ErrUnauthorized is returned when the server rejects the token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTransient is returned for network or server failures unrelated to token validity.
	ErrTransient = errors.New("transient failure")
	// ErrUserActionFailed is returned when an explicit user action could not be completed.
	ErrUserActionFailed = errors.New("user action failed")
	// ErrNoSession is returned when an operation needs a token and none is stored.
	ErrNoSession = errors.New("no active session")
	// ErrCheckInFlight is returned when a liveness check is already running.
	ErrCheckInFlight = errors.New("session check already in flight")
)
