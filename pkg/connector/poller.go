package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/yarkm13/ftpclient/pkg/logger"
)

// DefaultSchedule polls every six seconds.
const DefaultSchedule = "@every 6s"

// PollFunc runs one poll cycle.
type PollFunc func(ctx context.Context)

// Poller runs named poll cycles on cron schedules. A cycle still running
// when its next tick arrives is skipped.
type Poller struct {
	cron *cron.Cron
	log  *zap.Logger

	mu    sync.Mutex
	polls map[string]PollFunc

	ctx    context.Context
	cancel context.CancelFunc
}

type PollerOption func(*Poller)

// WithCron injects a preconfigured cron instance.
func WithCron(c *cron.Cron) PollerOption {
	return func(p *Poller) {
		if c != nil {
			p.cron = c
		}
	}
}

func WithPollerLogger(log *zap.Logger) PollerOption {
	return func(p *Poller) {
		if log != nil {
			p.log = log
		}
	}
}

func NewPoller(opts ...PollerOption) *Poller {
	p := &Poller{
		log:   logger.WithModule("poller"),
		polls: make(map[string]PollFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cron == nil {
		cl := cronLogger{p.log.Sugar()}
		p.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl)))
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Add registers fn under name. An empty schedule means DefaultSchedule.
func (p *Poller) Add(name, schedule string, fn PollFunc) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.polls[name]; ok {
		return fmt.Errorf("poll %q already registered", name)
	}
	if _, err := p.cron.AddFunc(schedule, func() {
		p.log.Debug("poll cycle starting", zap.String("poll", name))
		fn(p.ctx)
	}); err != nil {
		return fmt.Errorf("poll %q: schedule %q: %w", name, schedule, err)
	}
	p.polls[name] = fn
	return nil
}

func (p *Poller) Start() {
	p.cron.Start()
}

// Stop cancels running cycles and stops scheduling new ones. The returned
// context is done once running cycles have finished.
func (p *Poller) Stop() context.Context {
	p.cancel()
	return p.cron.Stop()
}

// RunOnce runs the named poll synchronously.
func (p *Poller) RunOnce(ctx context.Context, name string) error {
	p.mu.Lock()
	fn, ok := p.polls[name]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("poll %q not registered", name)
	}
	fn(ctx)
	return nil
}

// Names returns the registered poll names.
func (p *Poller) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.polls))
	for name := range p.polls {
		names = append(names, name)
	}
	return names
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
