// Package resilience wraps outbound calls in retries and per-host circuit
// breakers so one misbehaving image host cannot stall whole batches.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the position of one circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls without dialing the host.
	BreakerOpen
	// BreakerHalfOpen lets probe calls through to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned without calling the host while its breaker is
// open.
var ErrBreakerOpen = eris.New("resilience: breaker open")

// BreakerConfig controls when a breaker opens and recovers.
type BreakerConfig struct {
	// Threshold is the consecutive tripping failures before opening.
	Threshold int

	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration

	// Probes is the successful probe count needed to close again.
	Probes int

	// ShouldTrip decides whether an error counts toward Threshold. Nil means
	// IsTransient: a permanent failure like a 404 never suspends a host.
	ShouldTrip func(err error) bool

	// OnStateChange runs on every transition.
	OnStateChange func(from, to BreakerState)
}

// DownloadBreakerConfig is the default for image hosts: open after five
// straight transient failures, probe again after thirty seconds.
func DownloadBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		Cooldown:  30 * time.Second,
		Probes:    1,
	}
}

// Breaker is a circuit breaker for a single host.
type Breaker struct {
	cfg   BreakerConfig
	mu    sync.Mutex
	state BreakerState

	failures    int
	lastFailure time.Time
	probeWins   int

	now func() time.Time
}

// NewBreaker builds a breaker; non-positive config fields get the download
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DownloadBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	return &Breaker{
		cfg:   cfg,
		state: BreakerClosed,
		now:   time.Now,
	}
}

// Do runs fn unless the breaker is open, then records the outcome. An open
// breaker returns ErrBreakerOpen without calling fn.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// BreakVal is Do for calls that produce a value.
func BreakVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State reports the current position, surfacing half-open once the cooldown
// has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = BreakerClosed
	b.failures = 0
	b.probeWins = 0
	if old != BreakerClosed && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(old, BreakerClosed)
	}
}

// Counters returns the consecutive failure count and raw state.
func (b *Breaker) Counters() (failures int, state BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures, b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
			b.transition(BreakerHalfOpen)
			return nil
		}
		return ErrBreakerOpen
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	trips := b.cfg.ShouldTrip
	if trips == nil {
		trips = IsTransient
	}

	if err == nil || !trips(err) {
		switch b.state {
		case BreakerHalfOpen:
			b.probeWins++
			if b.probeWins >= b.cfg.Probes {
				b.transition(BreakerClosed)
				b.failures = 0
				b.probeWins = 0
			}
		case BreakerClosed:
			b.failures = 0
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.cfg.Threshold {
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		// One failed probe reopens.
		b.transition(BreakerOpen)
		b.probeWins = 0
	}
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// HostBreakers keys breakers by image host so a flaky CDN trips on its own.
type HostBreakers struct {
	mu     sync.RWMutex
	byHost map[string]*Breaker
	cfg    BreakerConfig
}

// NewHostBreakers builds a registry sharing one config across hosts.
func NewHostBreakers(cfg BreakerConfig) *HostBreakers {
	return &HostBreakers{
		byHost: make(map[string]*Breaker),
		cfg:    cfg,
	}
}

// For returns the breaker for host, creating it on first sight. State changes
// are logged with the host attached.
func (h *HostBreakers) For(host string) *Breaker {
	h.mu.RLock()
	b, ok := h.byHost[host]
	h.mu.RUnlock()
	if ok {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok = h.byHost[host]; ok {
		return b
	}

	cfg := h.cfg
	next := cfg.OnStateChange
	cfg.OnStateChange = func(from, to BreakerState) {
		zap.L().Warn("image host breaker state change",
			zap.String("host", host),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if next != nil {
			next(from, to)
		}
	}
	b = NewBreaker(cfg)
	h.byHost[host] = b
	return b
}

// States snapshots every known host's breaker state.
func (h *HostBreakers) States() map[string]BreakerState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	states := make(map[string]BreakerState, len(h.byHost))
	for host, b := range h.byHost {
		states[host] = b.State()
	}
	return states
}
