// Package llm adapts chat completion APIs to a single prompt-in, text-out
// interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/retry"
)

// Provider completes a single-turn prompt.
type Provider interface {
	// Name identifies the provider and model, e.g. "openai/gpt-4o-mini".
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// StatusError carries the HTTP status of a failed provider call.
type StatusError struct {
	Provider string
	Code     int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Retryable reports whether err may succeed if the call is repeated:
// throttling, server errors and failures without a status (network).
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

// Config selects and configures a provider.
type Config struct {
	// Provider is one of "openai", "anthropic" or "gemini".
	Provider string
	APIKey   string
	Model    string
}

// New builds the configured provider wrapped with retries.
func New(ctx context.Context, log *slog.Logger, cfg Config) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "openai":
		p, err = NewOpenAI(cfg.APIKey, cfg.Model)
	case "anthropic":
		p, err = NewAnthropic(cfg.APIKey, cfg.Model)
	case "gemini":
		p, err = NewGemini(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return &Retrying{Log: log, Provider: p}, nil
}

// Retrying retries retryable failures of the wrapped provider with
// exponential backoff.
type Retrying struct {
	Log      *slog.Logger
	Provider Provider
	// MaxAttempts defaults to 4.
	MaxAttempts int
	Floor, Ceil time.Duration
}

func (r *Retrying) Name() string { return r.Provider.Name() }

func (r *Retrying) Complete(ctx context.Context, system, prompt string) (string, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	floor, ceil := r.Floor, r.Ceil
	if floor <= 0 {
		floor = time.Second
	}
	if ceil < floor {
		ceil = 10 * floor
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	ret := retry.New(floor, ceil)
	attempt := 0
retryAI:
	attempt++
	out, err := r.Provider.Complete(ctx, system, prompt)
	if err != nil {
		if Retryable(err) && attempt < maxAttempts && ret.Wait(ctx) {
			log.Warn("retrying llm call", "provider", r.Name(), "attempt", attempt, "error", err)
			goto retryAI
		}
		return "", err
	}
	return out, nil
}
