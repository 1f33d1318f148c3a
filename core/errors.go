package core

import "errors"

var (
	ErrConnectionLost = errors.New("connection lost")
	ErrAlreadyRunning = errors.New("session already running")
	ErrInvalidConfig  = errors.New("invalid config")
)
