package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/circuitbreaker"
	infrahttp "github.com/jonesrussell/north-cloud/sniper/infrastructure/http"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

const maxErrorBody = 1024

type HTTPConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Breaker   circuitbreaker.Config
}

// HTTPProvider calls a remote automation driver over JSON/REST:
// POST /v1/authenticate, /v1/probe and /v1/perform.
type HTTPProvider struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	log     logger.Logger
}

func NewHTTPProvider(cfg HTTPConfig, log logger.Logger) *HTTPProvider {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	breakerCfg := cfg.Breaker
	breakerCfg.IsFailure = IsTransient
	if breakerCfg.OnStateChange == nil {
		breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
			log.Warn("Provider circuit breaker state changed",
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}
	}

	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  infrahttp.NewClient(&infrahttp.ClientConfig{Timeout: cfg.Timeout}),
		limiter: rate.NewLimiter(limit, burst),
		breaker: circuitbreaker.New(breakerCfg),
		log:     log,
	}
}

type authRequest struct {
	Provider   domain.SessionProvider `json:"provider"`
	Credential []byte                 `json:"credential"`
}

type authResponse struct {
	Ref string `json:"ref"`
}

type handleRequest struct {
	Ref        string                 `json:"ref"`
	Provider   domain.SessionProvider `json:"provider"`
	Credential []byte                 `json:"credential"`
}

type performRequest struct {
	handleRequest
	Action  domain.ActionType `json:"action"`
	Target  string            `json:"target"`
	Payload domain.RawJSON    `json:"payload,omitempty"`
}

// statusError is a non-2xx driver response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("driver returned %d: %s", e.code, e.body)
}

func (e *statusError) Unwrap() error {
	if e.code == http.StatusTooManyRequests || e.code >= http.StatusInternalServerError {
		return ErrTransient
	}
	return nil
}

func (e *statusError) kind() ErrorKind {
	switch {
	case e.code == http.StatusTooManyRequests || e.code >= http.StatusInternalServerError:
		return KindTransient
	case e.code == http.StatusUnauthorized || e.code == http.StatusForbidden:
		return KindCaptcha
	default:
		return KindPermanent
	}
}

func (p *HTTPProvider) Authenticate(ctx context.Context, kind domain.SessionProvider, credential []byte) (Handle, error) {
	var out authResponse
	err := p.call(ctx, "/v1/authenticate", authRequest{Provider: kind, Credential: credential}, &out)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code < http.StatusInternalServerError && se.code != http.StatusTooManyRequests {
			return Handle{}, fmt.Errorf("%w: %s", ErrRejected, se.body)
		}
		return Handle{}, fmt.Errorf("authenticate: %w", err)
	}
	if out.Ref == "" {
		return Handle{}, fmt.Errorf("%w: empty session reference", ErrRejected)
	}
	return Handle{Ref: out.Ref, Provider: kind}, nil
}

func (p *HTTPProvider) Probe(ctx context.Context, h Handle) (ProbeResult, error) {
	var out ProbeResult
	err := p.call(ctx, "/v1/probe", toHandleRequest(h), &out)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.kind() != KindTransient {
			return ProbeResult{OK: false, Reason: fmt.Sprintf("probe rejected with status %d", se.code)}, nil
		}
		return ProbeResult{}, fmt.Errorf("probe: %w", err)
	}
	return out, nil
}

// Perform never returns an error for driver-side failures; they are
// classified into Result.ErrorKind. An open breaker is a transient result.
func (p *HTTPProvider) Perform(
	ctx context.Context, h Handle, action domain.ActionType, target string, payload domain.RawJSON,
) (Result, error) {
	req := performRequest{handleRequest: toHandleRequest(h), Action: action, Target: target, Payload: payload}

	var out Result
	err := p.call(ctx, "/v1/perform", req, &out)
	if err == nil {
		if !out.OK && out.ErrorKind == KindNone {
			out.ErrorKind = KindPermanent
		}
		return out, nil
	}

	var se *statusError
	if errors.As(err, &se) {
		return Result{ErrorKind: se.kind(), Message: se.body}, nil
	}
	if IsTransient(err) {
		return Result{ErrorKind: KindTransient, Message: err.Error()}, nil
	}
	return Result{}, fmt.Errorf("perform %s: %w", action, err)
}

func (p *HTTPProvider) call(ctx context.Context, path string, in, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return p.breaker.Execute(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.token != "" {
			req.Header.Set("Authorization", "Bearer "+p.token)
		}

		resp, doErr := p.client.Do(req)
		if doErr != nil {
			return fmt.Errorf("%w: %w", ErrTransient, doErr)
		}
		defer resp.Body.Close()

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
		}
		if decErr := json.NewDecoder(resp.Body).Decode(out); decErr != nil {
			return fmt.Errorf("decode response: %w", decErr)
		}
		return nil
	})
}

func toHandleRequest(h Handle) handleRequest {
	return handleRequest{Ref: h.Ref, Provider: h.Provider, Credential: h.Credential}
}
