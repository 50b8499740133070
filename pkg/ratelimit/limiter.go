package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/httperr"
)

const keyPrefix = "ratelimit"

// Result describes the outcome of a single Allow call
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a fixed window rate limiter backed by Redis
type Limiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	exempt map[string]struct{}
	logger *logrus.Logger
	now    func() time.Time
}

// New creates a limiter allowing limit requests per window for each client.
// Requests to exempt paths are never counted.
func New(client redis.UniversalClient, limit int, window time.Duration, logger *logrus.Logger, exempt ...string) *Limiter {
	paths := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		paths[p] = struct{}{}
	}
	return &Limiter{
		client: client,
		limit:  limit,
		window: window,
		exempt: paths,
		logger: logger,
		now:    time.Now,
	}
}

// Allow counts a request for key in the current window
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", keyPrefix, key, windowStart.Unix())

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return Result{Allowed: true}, fmt.Errorf("failed to count request: %w", err)
	}

	count := int(incr.Val())
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}

	result := Result{Allowed: count <= l.limit, Remaining: remaining}
	if !result.Allowed {
		result.RetryAfter = windowStart.Add(l.window).Sub(now)
	}
	return result, nil
}

// Middleware enforces the limit per client IP
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := l.exempt[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		client := ClientIP(r)
		result, err := l.Allow(r.Context(), client)
		if err != nil {
			// fail open while Redis is unavailable
			l.logger.WithError(err).WithField("client", client).Warn("Rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			retry := int(result.RetryAfter.Round(time.Second) / time.Second)
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))

			l.logger.WithFields(logrus.Fields{
				"client": client,
				"path":   r.URL.Path,
			}).Warn("Rate limit exceeded")

			httperr.Write(w, http.StatusTooManyRequests,
				fmt.Sprintf("Rate limit exceeded: %d per %d second", l.limit, int(l.window/time.Second)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, or the remote address
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
