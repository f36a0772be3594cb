package synth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/hammamikhairi/ttsplay/internal/domain"
)

// Status is an engine result code.
type Status int

const (
	StatusSuccess Status = iota
	StatusUnknown
	StatusInvalidRequest
	StatusNetwork
	StatusNetworkTimeout
	StatusNotInstalledYet
	StatusOutput
	StatusService
	StatusSynthesis
	StatusLangMissingData
	StatusLangNotSupported
)

var statusText = map[Status]struct{ code, msg string }{
	StatusSuccess:          {"success", "success"},
	StatusUnknown:          {"error", "unknown error"},
	StatusInvalidRequest:   {"invalid_request", "failure caused by an invalid request"},
	StatusNetwork:          {"network_error", "failure caused by network connectivity problems"},
	StatusNetworkTimeout:   {"network_timeout", "failure caused by network timeout"},
	StatusNotInstalledYet:  {"not_installed_yet", "unfinished download of voice data"},
	StatusOutput:           {"output_error", "failure related to the output (audio device or a file)"},
	StatusService:          {"service_error", "failure of a TTS service"},
	StatusSynthesis:        {"synthesis_error", "failure of a TTS engine to synthesize the given input"},
	StatusLangMissingData:  {"lang_missing_data", "language data is missing"},
	StatusLangNotSupported: {"lang_not_supported", "language is not supported"},
}

// String returns the status code name.
func (s Status) String() string {
	if t, ok := statusText[s]; ok {
		return t.code
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Err returns nil for StatusSuccess and a wrapped ErrSynthesis otherwise.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	t, ok := statusText[s]
	if !ok {
		t = statusText[StatusUnknown]
	}
	return &StatusError{Status: s, msg: t.msg}
}

// StatusError carries an engine status. It matches domain.ErrSynthesis.
type StatusError struct {
	Status Status
	msg    string
	cause  error
}

func (e *StatusError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Status, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.msg)
}

// Is makes errors.Is(err, domain.ErrSynthesis) true.
func (e *StatusError) Is(target error) bool { return target == domain.ErrSynthesis }

func (e *StatusError) Unwrap() error { return e.cause }

// wrapStatus attaches a cause to a status error.
func wrapStatus(s Status, cause error) error {
	err := s.Err().(*StatusError)
	err.cause = cause
	return err
}

// StatusFromHTTP maps a REST response code to a Status.
func StatusFromHTTP(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return StatusSuccess
	case code == http.StatusBadRequest, code == http.StatusRequestEntityTooLarge:
		return StatusInvalidRequest
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return StatusNetworkTimeout
	case code >= 400:
		return StatusService
	}
	return StatusUnknown
}

// StatusFromError maps a transport error to a Status.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusNetworkTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return StatusNetworkTimeout
		}
		return StatusNetwork
	}
	return StatusUnknown
}
