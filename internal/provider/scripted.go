package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// Call is one Perform recorded by Scripted.
type Call struct {
	Ref    string
	Action domain.ActionType
	Target string
	At     time.Time
}

// Scripted is a deterministic in-process provider. Perform returns the next
// scripted result for the target, falling back to the default (success).
type Scripted struct {
	mu         sync.Mutex
	results    map[string][]Result
	fallback   Result
	probe      ProbeResult
	probeErrs  []error
	rejectAuth bool
	latency    time.Duration
	calls      []Call
}

func NewScripted() *Scripted {
	return &Scripted{
		results:  make(map[string][]Result),
		fallback: Result{OK: true},
		probe:    ProbeResult{OK: true},
	}
}

// Script queues results for target, consumed in order.
func (s *Scripted) Script(target string, results ...Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[target] = append(s.results[target], results...)
}

func (s *Scripted) SetDefault(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = r
}

// SetProbe sets the probe outcome. errs are returned by successive probes
// before the result is.
func (s *Scripted) SetProbe(r ProbeResult, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probe = r
	s.probeErrs = errs
}

func (s *Scripted) RejectAuth(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAuth = reject
}

// SetLatency delays every Perform, honouring ctx.
func (s *Scripted) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Scripted) Authenticate(_ context.Context, kind domain.SessionProvider, _ []byte) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectAuth {
		return Handle{}, ErrRejected
	}
	return Handle{Ref: "scripted-" + uuid.NewString(), Provider: kind}, nil
}

func (s *Scripted) Probe(_ context.Context, _ Handle) (ProbeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.probeErrs) > 0 {
		err := s.probeErrs[0]
		s.probeErrs = s.probeErrs[1:]
		return ProbeResult{}, err
	}
	return s.probe, nil
}

func (s *Scripted) Perform(
	ctx context.Context, h Handle, action domain.ActionType, target string, _ domain.RawJSON,
) (Result, error) {
	s.mu.Lock()
	latency := s.latency
	s.calls = append(s.calls, Call{Ref: h.Ref, Action: action, Target: target, At: time.Now()})
	r := s.fallback
	if queued := s.results[target]; len(queued) > 0 {
		r = queued[0]
		s.results[target] = queued[1:]
	}
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(latency):
		}
	}
	return r, nil
}
