package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ivlev/pdf2html/internal/cache"
	"github.com/ivlev/pdf2html/internal/domain"
)

const defaultTimeout = 5 * time.Minute

// Options configure a Client. They are fixed at construction.
type Options struct {
	Model         string
	Timeout       time.Duration
	Retry         RetryPolicy
	RateLimit     float64 // calls per second across the process, 0 disables
	MaxConcurrent int     // in-flight transport calls, 0 disables
	MaxTokens     int
	Temperature   float64
	Cache         cache.Client
	CacheTTL      time.Duration
}

// Stats are cumulative counters for observability.
type Stats struct {
	Calls     int64
	Attempts  int64
	Retries   int64
	CacheHits int64
}

// Client is the retrying wrapper around a Transport. It is safe for
// concurrent use and meant to be shared by every pipeline in the process.
type Client struct {
	transport Transport
	opts      Options
	limiter   *rate.Limiter
	sem       *semaphore.Weighted
	log       zerolog.Logger
	sleep     func(context.Context, time.Duration) error

	calls     atomic.Int64
	attempts  atomic.Int64
	retries   atomic.Int64
	cacheHits atomic.Int64
}

func NewClient(t Transport, opts Options, log zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = defaultMaxAttempts
	}

	c := &Client{
		transport: t,
		opts:      opts,
		log:       log.With().Str("component", "inference").Logger(),
		sleep:     sleep,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	if opts.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return c
}

func (c *Client) Stats() Stats {
	return Stats{
		Calls:     c.calls.Load(),
		Attempts:  c.attempts.Load(),
		Retries:   c.retries.Load(),
		CacheHits: c.cacheHits.Load(),
	}
}

// Call sends req, retrying transient failures with jittered exponential
// backoff. Fatal failures return after one attempt. Once ctx is canceled no
// further attempt starts, but an attempt already on the wire runs to
// completion under its own timeout.
func (c *Client) Call(ctx context.Context, req *Request) (*Response, error) {
	c.calls.Add(1)
	req = c.withDefaults(req)

	var key string
	if c.opts.Cache != nil {
		key = c.cacheKey(req)
		if data, err := c.opts.Cache.Get(ctx, key); err == nil {
			c.cacheHits.Add(1)
			return &Response{Text: string(data), Cached: true}, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			c.log.Warn().Err(err).Msg("cache lookup failed")
		}
	}

	maxAttempts := c.opts.Retry.MaxAttempts
	for attempt := 1; ; attempt++ {
		text, err := c.attempt(ctx, req)
		if err == nil {
			if key != "" {
				if err := c.opts.Cache.Set(ctx, key, []byte(text), c.opts.CacheTTL); err != nil {
					c.log.Warn().Err(err).Msg("cache store failed")
				}
			}
			return &Response{Text: text, Attempts: attempt}, nil
		}

		var de *domain.Error
		if errors.As(err, &de) && de.Kind == domain.KindCanceled {
			return nil, err
		}

		if !IsTransient(err) {
			return nil, domain.FatalInferenceError(
				fmt.Sprintf("attempt %d rejected", attempt), err)
		}
		if attempt >= maxAttempts {
			return nil, domain.TransientInferenceError(
				fmt.Sprintf("giving up after %d attempts", attempt), err)
		}

		backoff := c.opts.Retry.Backoff(attempt)
		c.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("backoff", backoff).
			Msg("inference call failed, retrying")
		c.retries.Add(1)

		if err := c.sleep(ctx, backoff); err != nil {
			return nil, domain.CanceledError("shutdown during backoff", err)
		}
	}
}

func (c *Client) attempt(ctx context.Context, req *Request) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", domain.CanceledError("rate limiter wait aborted", err)
		}
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return "", domain.CanceledError("concurrency slot wait aborted", err)
		}
		defer c.sem.Release(1)
	}
	if err := ctx.Err(); err != nil {
		return "", domain.CanceledError("shutdown before attempt", err)
	}

	c.attempts.Add(1)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	text, err := c.transport.Complete(callCtx, req)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("no response within %s: %w", timeout, errors.Join(err, context.DeadlineExceeded))
	}
	c.log.Debug().Dur("took", time.Since(start)).Bool("ok", err == nil).Msg("inference attempt")
	return text, err
}

func (c *Client) withDefaults(req *Request) *Request {
	out := *req
	if out.MaxTokens == 0 {
		out.MaxTokens = c.opts.MaxTokens
	}
	if out.Temperature == 0 {
		out.Temperature = c.opts.Temperature
	}
	return &out
}

func (c *Client) cacheKey(req *Request) string {
	h := sha256.New()
	h.Write([]byte(c.opts.Model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(req.MaxTokens)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(req.Temperature, 'g', -1, 64)))
	for _, m := range req.Messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Text))
		for _, img := range m.Images {
			sum := sha256.Sum256(img.Data)
			h.Write([]byte(img.MIMEType))
			h.Write(sum[:])
		}
	}
	return "inference:" + hex.EncodeToString(h.Sum(nil))
}
