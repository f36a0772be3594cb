package domain

import "errors"

// Sentinel errors used across layers.
var (
	ErrEngineNotReady   = errors.New("speech engine is not ready")
	ErrEngineBusy       = errors.New("speech engine is already speaking this utterance")
	ErrFocusDenied      = errors.New("audio focus denied")
	ErrFocusHeld        = errors.New("audio focus already held")
	ErrDeviceAllocation = errors.New("audio device allocation failed")
	ErrDeviceWrite      = errors.New("audio device write failed")
	ErrSynthesis        = errors.New("speech synthesis failed")
	ErrVoiceNotFound    = errors.New("voice not found")
	ErrQueueFull        = errors.New("speech queue is full")
	ErrInvalidOptions   = errors.New("invalid speak options")
	ErrUnknownEngine    = errors.New("unknown speech engine")
	ErrClosed           = errors.New("speaker is closed")
	ErrNotFound         = errors.New("not found")
)
