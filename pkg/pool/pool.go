package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"
	"go.uber.org/zap"

	"github.com/yarkm13/ftpclient/pkg/logger"
	"github.com/yarkm13/ftpclient/pkg/metrics"
	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

const (
	DefaultMaxActive        = 5
	DefaultEvictionInterval = 30 * time.Second
)

// ErrNotBorrowed is returned when a session is handed back that this pool
// did not lend out, or that was already handed back.
var ErrNotBorrowed = errors.New("pool: session not borrowed from this pool")

// Factory creates sessions for one remote endpoint.
type Factory interface {
	Create(ctx context.Context) (remotefs.Session, error)
	Endpoint() string
	Protocol() string
}

type Options struct {
	// MaxActive bounds the number of live sessions, idle or borrowed.
	MaxActive int
	// TestOnBorrow validates idle sessions before lending them out.
	TestOnBorrow bool
	// MaxIdleTime evicts sessions idle for longer. Zero keeps them forever.
	MaxIdleTime      time.Duration
	EvictionInterval time.Duration
	Logger           *zap.Logger
}

// Pool lends sessions of one endpoint to concurrent callers. Every Borrow
// must be paired with exactly one Return or Invalidate; WithSession does
// that pairing automatically.
type Pool struct {
	factory Factory
	opts    Options
	log     *zap.Logger
	res     *puddle.Pool[remotefs.Session]

	mu       sync.Mutex
	borrowed map[remotefs.Session]*puddle.Resource[remotefs.Session]
	fresh    map[remotefs.Session]struct{}

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(factory Factory, opts Options) (*Pool, error) {
	if opts.MaxActive <= 0 {
		opts.MaxActive = DefaultMaxActive
	}
	if opts.EvictionInterval <= 0 {
		opts.EvictionInterval = DefaultEvictionInterval
	}
	log := opts.Logger
	if log == nil {
		log = logger.WithModule("pool")
	}

	p := &Pool{
		factory:  factory,
		opts:     opts,
		log:      log.With(zap.String("endpoint", factory.Endpoint())),
		borrowed: make(map[remotefs.Session]*puddle.Resource[remotefs.Session]),
		fresh:    make(map[remotefs.Session]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	res, err := puddle.NewPool(&puddle.Config[remotefs.Session]{
		Constructor: p.construct,
		Destructor:  p.destruct,
		MaxSize:     int32(opts.MaxActive),
	})
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	p.res = res

	if opts.MaxIdleTime > 0 {
		go p.evictLoop()
	} else {
		close(p.done)
	}
	return p, nil
}

func (p *Pool) construct(ctx context.Context) (remotefs.Session, error) {
	s, err := p.factory.Create(ctx)
	if err != nil {
		kind := remotefs.ConnectionUnknown
		var connErr *remotefs.ConnectionError
		if errors.As(err, &connErr) {
			kind = connErr.Kind
		}
		metrics.SessionCreateFailures.WithLabelValues(p.factory.Protocol(), kind.String()).Inc()
		return nil, err
	}
	metrics.SessionsCreated.WithLabelValues(p.factory.Protocol()).Inc()

	p.mu.Lock()
	p.fresh[s] = struct{}{}
	p.mu.Unlock()
	return s, nil
}

func (p *Pool) destruct(s remotefs.Session) {
	if err := s.Destroy(); err != nil {
		p.log.Debug("ignoring error on session destroy", zap.String("session", s.ID()), zap.Error(err))
	}
}

// Borrow lends out an idle session or creates one. It blocks while MaxActive
// sessions are borrowed until one is returned or ctx is done. Factory
// failures are returned unchanged, typically as *remotefs.ConnectionError.
func (p *Pool) Borrow(ctx context.Context) (remotefs.Session, error) {
	start := time.Now()
	for {
		res, err := p.res.Acquire(ctx)
		if err != nil {
			if errors.Is(err, puddle.ErrClosedPool) {
				return nil, fmt.Errorf("pool: %w", err)
			}
			return nil, err
		}
		s := res.Value()

		p.mu.Lock()
		_, isFresh := p.fresh[s]
		delete(p.fresh, s)
		p.mu.Unlock()

		if !isFresh && (s.Invalid() || (p.opts.TestOnBorrow && !s.Validate())) {
			p.log.Debug("discarding idle session that failed validation", zap.String("session", s.ID()))
			metrics.SessionsDestroyed.WithLabelValues(p.factory.Protocol(), "validation").Inc()
			_ = s.Destroy()
			res.Destroy()
			continue
		}

		p.mu.Lock()
		p.borrowed[s] = res
		p.mu.Unlock()

		metrics.BorrowLatency.WithLabelValues(p.factory.Protocol()).Observe(time.Since(start).Seconds())
		metrics.BorrowedSessions.WithLabelValues(p.factory.Endpoint()).Inc()
		return s, nil
	}
}

func (p *Pool) take(s remotefs.Session) *puddle.Resource[remotefs.Session] {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.borrowed[s]
	if !ok {
		return nil
	}
	delete(p.borrowed, s)
	metrics.BorrowedSessions.WithLabelValues(p.factory.Endpoint()).Dec()
	return res
}

// Return makes s available to other borrowers. A session that flagged
// itself invalid is destroyed instead.
func (p *Pool) Return(s remotefs.Session) error {
	res := p.take(s)
	if res == nil {
		return ErrNotBorrowed
	}
	if s.Invalid() {
		metrics.SessionsDestroyed.WithLabelValues(p.factory.Protocol(), "invalidated").Inc()
		_ = s.Destroy()
		res.Destroy()
		return nil
	}
	res.Release()
	return nil
}

// Invalidate destroys s and frees its slot.
func (p *Pool) Invalidate(s remotefs.Session) error {
	res := p.take(s)
	if res == nil {
		_ = s.Destroy()
		return ErrNotBorrowed
	}
	metrics.SessionsDestroyed.WithLabelValues(p.factory.Protocol(), "invalidated").Inc()
	if err := s.Destroy(); err != nil {
		p.log.Debug("ignoring error on session destroy", zap.String("session", s.ID()), zap.Error(err))
	}
	res.Destroy()
	return nil
}

// Release returns s when err is nil and invalidates it otherwise.
func (p *Pool) Release(s remotefs.Session, err error) {
	var perr error
	if err != nil {
		perr = p.Invalidate(s)
	} else {
		perr = p.Return(s)
	}
	if perr != nil {
		p.log.Warn("session released twice", zap.String("session", s.ID()), zap.Error(perr))
	}
}

// WithSession borrows a session for the duration of fn. The session is
// returned when fn succeeds and invalidated when fn fails or panics.
func (p *Pool) WithSession(ctx context.Context, fn func(remotefs.Session) error) (err error) {
	s, err := p.Borrow(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = p.Invalidate(s)
			panic(r)
		}
		p.Release(s, err)
	}()
	return fn(s)
}

// ActiveConnections returns the number of sessions currently borrowed.
func (p *Pool) ActiveConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.borrowed)
}

// IdleConnections returns the number of live sessions waiting to be borrowed.
func (p *Pool) IdleConnections() int {
	return int(p.res.Stat().IdleResources())
}

// TotalConnections returns the number of live sessions, including those
// being created or destroyed.
func (p *Pool) TotalConnections() int {
	return int(p.res.Stat().TotalResources())
}

func (p *Pool) Endpoint() string { return p.factory.Endpoint() }

// Factory returns the factory sessions are created with.
func (p *Pool) Factory() Factory { return p.factory }

// EvictIdle destroys idle sessions unused for longer than maxIdle and
// returns how many were evicted.
func (p *Pool) EvictIdle(maxIdle time.Duration) int {
	evicted := 0
	for _, res := range p.res.AcquireAllIdle() {
		if res.IdleDuration() <= maxIdle {
			res.ReleaseUnused()
			continue
		}
		s := res.Value()
		p.log.Debug("evicting idle session", zap.String("session", s.ID()), zap.Duration("idle", res.IdleDuration()))
		metrics.SessionsDestroyed.WithLabelValues(p.factory.Protocol(), "idle").Inc()
		_ = s.Destroy()
		res.Destroy()
		evicted++
	}
	return evicted
}

func (p *Pool) evictLoop() {
	defer close(p.done)
	ticker := time.NewTicker(p.opts.EvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if n := p.EvictIdle(p.opts.MaxIdleTime); n > 0 {
				p.log.Debug("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

// Close destroys idle sessions and rejects new borrows. It blocks until
// every borrowed session has been returned or invalidated.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
		p.res.Close()
	})
}
