package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/verimesh/logging"
)

// DefaultTimeout applies when a call does not specify its own timeout.
const DefaultTimeout = 60 * time.Second

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	// Timeout is the default per-call timeout.
	Timeout time.Duration
	// RatePerSecond limits calls across all goroutines sharing the gateway.
	// Zero disables rate limiting.
	RatePerSecond float64
	// Burst is the token bucket size. Defaults to 1 when rate limiting is on.
	Burst int
	// Limiter overrides RatePerSecond/Burst with a shared limiter.
	Limiter *rate.Limiter
	Logger  logging.Logger
}

// Gateway performs synchronous request/response calls against a Model.
// It is safe for concurrent use.
type Gateway struct {
	model   Model
	limiter *rate.Limiter
	opts    GatewayOptions
}

// NewGateway wraps m.
func NewGateway(m Model, optFns ...func(o *GatewayOptions)) *Gateway {
	opts := GatewayOptions{
		Timeout: DefaultTimeout,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	limiter := opts.Limiter
	if limiter == nil && opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return &Gateway{model: m, limiter: limiter, opts: opts}
}

// Info describes the wrapped model.
func (g *Gateway) Info() Info { return g.model.Info() }

// Send performs one call and returns the final response. A timeout <= 0
// uses the gateway default.
//
// Failures are returned as *GatewayError. Cancellation of ctx itself is
// returned as the context error so callers can tell it apart from
// transport failures; no partial response is ever returned.
func (g *Gateway) Send(ctx context.Context, req Request, timeout time.Duration) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if timeout <= 0 {
		timeout = g.opts.Timeout
	}
	provider := g.model.Info().Provider

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(callCtx); err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			return Response{}, NewGatewayError(KindRateLimited, provider, fmt.Errorf("rate limiter: %w", err))
		}
	}

	start := time.Now()
	respCh, errCh := g.model.Generate(callCtx, req)

	var final *Response
	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				resp := r
				final = &resp
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, g.classify(ctx, provider, err)
			}
		case <-callCtx.Done():
			return Response{}, g.classify(ctx, provider, callCtx.Err())
		}
	}

	if final == nil {
		return Response{}, NewGatewayError(KindMalformed, provider, errors.New("no final response"))
	}

	g.opts.Logger.Debug("gateway.call.complete",
		"provider", provider,
		"duration_ms", time.Since(start).Milliseconds(),
		"finish_reason", final.FinishReason,
	)
	return *final, nil
}

func (g *Gateway) classify(parent context.Context, provider string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		if gerr.Provider == "" {
			gerr.Provider = provider
		}
		return gerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewGatewayError(KindTimeout, provider, err)
	}
	return NewGatewayError(KindProviderError, provider, err)
}
