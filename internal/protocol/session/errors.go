package session

import "errors"

var (
	ErrConnection    = errors.New("session: connection failed")
	ErrNotConnected  = errors.New("session: not connected")
	ErrTimeout       = errors.New("session: fetch timed out")
	ErrProtocol      = errors.New("session: upstream error")
	ErrClosed        = errors.New("session: manager closed")
	ErrDialerMissing = errors.New("session: dialer required")
)
