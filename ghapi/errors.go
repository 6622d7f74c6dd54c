package ghapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v59/github"
)

// Kind classifies a failed catalog call.
type Kind int

const (
	// KindTransient failures are retried and, once attempts run out, fail
	// only the unit that made the call.
	KindTransient Kind = iota + 1
	// KindPermanent failures are never retried.
	KindPermanent
	// KindRateLimited failures are absorbed by waiting for the quota reset.
	KindRateLimited
	// KindAuth means the catalog rejected our credentials.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth_rejected"
	default:
		return "unknown"
	}
}

// ErrAuthRejected is fatal for a run.
var ErrAuthRejected = errors.New("catalog rejected credentials")

// ErrMalformed marks a response that decoded but is missing required fields.
var ErrMalformed = errors.New("malformed response")

// defaultAbuseWait applies when a secondary rate limit carries no Retry-After.
const defaultAbuseWait = time.Minute

type Error struct {
	Kind   Kind
	Op     string
	Status int
	// ResetAt is set for KindRateLimited.
	ResetAt time.Time
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrAuthRejected && e.Kind == KindAuth
}

// KindOf returns the Kind of err, or zero if err did not come from the
// fetcher.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsTransient(err error) bool { return KindOf(err) == KindTransient }
func IsPermanent(err error) bool { return KindOf(err) == KindPermanent }

// classify maps a go-github error onto the fetcher taxonomy.
func classify(op string, resp *github.Response, err error) *Error {
	e := &Error{Op: op, Err: err, Kind: KindTransient}
	if resp != nil && resp.Response != nil {
		e.Status = resp.StatusCode
	}

	var (
		rateErr     *github.RateLimitError
		abuseErr    *github.AbuseRateLimitError
		respErr     *github.ErrorResponse
		acceptedErr *github.AcceptedError
		syntaxErr   *json.SyntaxError
		typeErr     *json.UnmarshalTypeError
		netErr      net.Error
	)
	switch {
	case errors.As(err, &rateErr):
		e.Kind = KindRateLimited
		e.ResetAt = rateErr.Rate.Reset.Time
	case errors.As(err, &abuseErr):
		e.Kind = KindRateLimited
		wait := defaultAbuseWait
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		e.ResetAt = time.Now().Add(wait)
	case errors.As(err, &respErr):
		e.Status = respErr.Response.StatusCode
		e.Kind = kindForStatus(respErr.Response)
		if e.Kind == KindRateLimited {
			e.ResetAt = resetFromHeaders(respErr.Response)
		}
	case errors.As(err, &acceptedErr):
		// The catalog is computing the answer; ask again shortly.
		e.Kind = KindTransient
	case errors.Is(err, ErrMalformed),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		e.Kind = KindTransient
	}
	return e
}

func kindForStatus(r *http.Response) Kind {
	switch code := r.StatusCode; {
	case code == http.StatusUnauthorized:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusForbidden && r.Header.Get("X-RateLimit-Remaining") == "0":
		return KindRateLimited
	case code >= 500:
		return KindTransient
	default:
		// 403, 404, 410, 422 and the rest of 4xx.
		return KindPermanent
	}
}

func resetFromHeaders(r *http.Response) time.Time {
	if s := r.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			return time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	if s := r.Header.Get("X-RateLimit-Reset"); s != "" {
		if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(unix, 0)
		}
	}
	return time.Now().Add(defaultAbuseWait)
}
