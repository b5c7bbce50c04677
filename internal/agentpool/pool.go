// Package agentpool manages the rate-limited crawl credential consumed
// before every outbound marketplace request.
package agentpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TokenStatus is the lifecycle state of the current crawl token.
type TokenStatus string

// Token status values.
const (
	StatusIdle        TokenStatus = "IDLE"
	StatusActive      TokenStatus = "ACTIVE"
	StatusRateLimited TokenStatus = "RATE_LIMITED"
	StatusRecovered   TokenStatus = "RECOVERED"
	StatusDisabled    TokenStatus = "DISABLED"
)

// Pool errors.
var (
	// ErrNoCapacity is returned when ConsumeRequest is called while the pool
	// cannot serve a request.
	ErrNoCapacity = errors.New("agent pool: no request capacity")
	// ErrBackoffActive is returned when recovery is attempted before the
	// rate-limit backoff has elapsed.
	ErrBackoffActive = errors.New("agent pool: rate limit backoff still active")
	// ErrNotRateLimited is returned when recovery is attempted from any
	// state other than RATE_LIMITED.
	ErrNotRateLimited = errors.New("agent pool: not rate limited")
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Config tunes the pool.
type Config struct {
	// HourlyQuota is the request budget per token per rolling hour.
	HourlyQuota int
	// Validity is how long a token remains usable from issuance.
	Validity time.Duration
	// Backoff is how long the pool rests after a rate-limit response before
	// recovery may be attempted.
	Backoff time.Duration
	// RPS smooths request spacing; zero disables smoothing.
	RPS float64
	// Burst is the limiter burst size; defaults to 1.
	Burst int
}

type token struct {
	issuedAt      time.Time
	remaining     int
	status        TokenStatus
	rateLimitedAt time.Time
}

// Pool holds one active token and rotates it when it expires. All methods
// are safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	tok     token
	limiter *rate.Limiter
	clock   Clock
	cfg     Config
	logger  *zap.Logger
}

// New builds a Pool with a fresh IDLE token.
func New(cfg Config, clock Clock, logger *zap.Logger) (*Pool, error) {
	if cfg.HourlyQuota <= 0 {
		return nil, fmt.Errorf("agent pool hourly quota must be > 0")
	}
	if cfg.Validity <= 0 {
		return nil, fmt.Errorf("agent pool token validity must be > 0")
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Pool{
		tok: token{
			issuedAt:  clock.Now(),
			remaining: cfg.HourlyQuota,
			status:    StatusIdle,
		},
		limiter: rate.NewLimiter(limit, burst),
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// CanMakeRequest reports whether a crawl request may be made right now:
// the token is within its validity window, has budget left, and is neither
// rate limited nor disabled.
func (p *Pool) CanMakeRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateIfExpired()
	return p.usable()
}

// ConsumeRequest decrements the token's remaining budget. It returns
// ErrNoCapacity when CanMakeRequest would be false.
func (p *Pool) ConsumeRequest() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateIfExpired()
	if !p.usable() {
		return ErrNoCapacity
	}
	p.tok.remaining--
	p.tok.status = StatusActive
	return nil
}

// HandleRateLimitError discards the current token and rests the pool for the
// configured backoff.
func (p *Pool) HandleRateLimitError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tok.status = StatusRateLimited
	p.tok.remaining = 0
	p.tok.rateLimitedAt = p.clock.Now()
	p.logger.Warn("agent pool rate limited, backing off",
		zap.Duration("backoff", p.cfg.Backoff),
	)
}

// RecoverFromRateLimit restores the full quota once the backoff has elapsed.
// It is only valid from RATE_LIMITED.
func (p *Pool) RecoverFromRateLimit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tok.status != StatusRateLimited {
		return ErrNotRateLimited
	}
	if p.clock.Now().Sub(p.tok.rateLimitedAt) < p.cfg.Backoff {
		return ErrBackoffActive
	}
	p.tok = token{
		issuedAt:  p.clock.Now(),
		remaining: p.cfg.HourlyQuota,
		status:    StatusRecovered,
	}
	p.logger.Info("agent pool recovered from rate limit")
	return nil
}

// Wait blocks until the smoothing limiter admits the next request or the
// context ends.
func (p *Pool) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("agent pool wait: %w", err)
	}
	return nil
}

// Status returns the current token status.
func (p *Pool) Status() TokenStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tok.status
}

// Remaining returns the remaining request budget of the current token.
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tok.remaining
}

// rotateIfExpired issues a fresh token when the current one has outlived its
// validity window. A rate-limited or disabled token is never rotated here;
// those recover only via RecoverFromRateLimit or operator action.
func (p *Pool) rotateIfExpired() {
	if p.tok.status == StatusRateLimited || p.tok.status == StatusDisabled {
		return
	}
	if p.clock.Now().Sub(p.tok.issuedAt) < p.cfg.Validity {
		return
	}
	p.tok = token{
		issuedAt:  p.clock.Now(),
		remaining: p.cfg.HourlyQuota,
		status:    StatusIdle,
	}
}

func (p *Pool) usable() bool {
	if p.tok.status == StatusRateLimited || p.tok.status == StatusDisabled {
		return false
	}
	if p.clock.Now().Sub(p.tok.issuedAt) >= p.cfg.Validity {
		return false
	}
	return p.tok.remaining > 0
}
