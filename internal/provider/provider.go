// Package provider is the boundary to the automation driver that talks to
// the platform. The engine never touches the platform directly.
package provider

import (
	"context"
	"errors"
	"net"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// ErrorKind classifies a failed Perform.
type ErrorKind string

const (
	KindNone      ErrorKind = ""
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
	KindCaptcha   ErrorKind = "captcha"
	KindBlocked   ErrorKind = "blocked"
)

var (
	// ErrRejected means the driver refused the credential.
	ErrRejected = errors.New("credential rejected")
	// ErrTransient marks a driver failure worth retrying.
	ErrTransient = errors.New("transient provider failure")
)

// Handle identifies an authenticated driver session. Credential is the
// unsealed credential and is only held for the duration of a call.
type Handle struct {
	Ref        string
	Provider   domain.SessionProvider
	Credential []byte
}

type ProbeResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type Result struct {
	OK        bool           `json:"ok"`
	Payload   domain.RawJSON `json:"payload,omitempty"`
	ErrorKind ErrorKind      `json:"errorKind,omitempty"`
	Message   string         `json:"message,omitempty"`
}

type Provider interface {
	Authenticate(ctx context.Context, kind domain.SessionProvider, credential []byte) (Handle, error)
	Probe(ctx context.Context, h Handle) (ProbeResult, error)
	Perform(ctx context.Context, h Handle, action domain.ActionType, target string, payload domain.RawJSON) (Result, error)
}

// IsTransient reports whether err is worth retrying: deadlines, network
// errors, an open breaker and ErrTransient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
