package model

import "errors"

// Failure sentinels shared across the service layers. Call sites wrap them
// with fmt.Errorf("...: %w", ...) and the HTTP layer maps them to status
// codes.
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("invalid request")
	ErrDuplicateDevice = errors.New("device already registered to this account")
	ErrDeviceClaimed   = errors.New("device registered to another account")
	ErrSlotsFull       = errors.New("no free switch slot on parent device")
	ErrHasDependents   = errors.New("device still has attached tanks")
	ErrNoAddress       = errors.New("device has no transport address")
	ErrTransport       = errors.New("publish to device failed")
	ErrTimeout         = errors.New("timed out waiting for device response")
)
