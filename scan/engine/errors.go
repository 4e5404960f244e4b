package engine

import (
	"errors"

	"github.com/celskeggs/scanmx/scan/axis"
)

var (
	ErrInvalidConfiguration = axis.ErrInvalidConfiguration
	ErrNotReady             = errors.New("not ready")
	ErrAlreadyRunning       = errors.New("scan already running")
	ErrDeviceLimitHit       = errors.New("device limit hit")
	ErrSignalUnavailable    = errors.New("signal unavailable")
	ErrUserCancelled        = errors.New("stopped by user")
)
