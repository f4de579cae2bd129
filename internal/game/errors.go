package game

import (
	"errors"

	"github.com/scythe504/whosetrack-backend/internal"
)

var (
	ErrDuplicateConnection = errors.New("player already connected")
	ErrSessionEnded        = errors.New("session has ended, joins are closed")
	ErrSessionFull         = errors.New("session is full")
	ErrUnknownClient       = errors.New("unknown client")
	ErrUnknownPlayer       = errors.New("unknown player")
	ErrWrongState          = errors.New("action not allowed in current state")
	ErrInvalidConfig       = internal.ErrInvalidConfig
	ErrHostClosed          = errors.New("session host closed")
)
