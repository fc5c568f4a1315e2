package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrNetwork            = fmt.Errorf("network error")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrRefreshRejected    = fmt.Errorf("refresh token rejected")
	ErrNotAuthenticated   = fmt.Errorf("not authenticated")
	ErrUnauthorized       = fmt.Errorf("unauthorized")
	ErrNotConnected       = fmt.Errorf("not connected")
	ErrConnectionFailed   = fmt.Errorf("connection attempts exhausted")
	ErrRoomNotJoined      = fmt.Errorf("room not joined")
	ErrInvalidRequest     = fmt.Errorf("invalid request")
)

// Is and As forward to the standard library so call sites can import a
// single errors package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
