package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yarkm13/ftpclient/pkg/logger"
	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

const (
	DefaultWorkers  = 4
	DefaultAttempts = 3
	DefaultAutosave = 2 * time.Second
)

// Remote is the part of connector.Connector a mirror needs.
type Remote interface {
	List(ctx context.Context, dir string) ([]remotefs.RemoteFile, error)
	GetFile(ctx context.Context, dir, filename string) (io.ReadCloser, error)
}

// ListRecursively returns every regular file below base. Directories are
// visited once.
func ListRecursively(ctx context.Context, r Remote, base string) ([]string, error) {
	log := logger.WithModule("mirror")
	base = path.Clean("/" + base)
	visited := make(map[string]bool)
	var files []string

	var walk func(current string) error
	walk = func(current string) error {
		if visited[current] {
			log.Debug("skipping already visited path", zap.String("path", current))
			return nil
		}
		visited[current] = true
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := r.List(ctx, current)
		if err != nil {
			return fmt.Errorf("list %s: %w", current, err)
		}
		for _, e := range entries {
			full := path.Join(current, e.Name())
			if base != "/" && !strings.HasPrefix(full, base+"/") {
				log.Debug("skipping path outside base", zap.String("path", full))
				continue
			}
			switch e.Type() {
			case remotefs.FileTypeFile:
				files = append(files, full)
			case remotefs.FileTypeDirectory:
				if err := walk(full); err != nil {
					return err
				}
			}
		}
		return nil
	}

	err := walk(base)
	return files, err
}

type Runner struct {
	remote   Remote
	workers  int
	attempts int
	backoff  time.Duration
	autosave time.Duration
	log      *zap.Logger
}

type Option func(*Runner)

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithRetry sets how often a file is tried and the pause after the first
// failure, which grows linearly.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(r *Runner) {
		if attempts > 0 {
			r.attempts = attempts
		}
		r.backoff = backoff
	}
}

func WithAutosave(interval time.Duration) Option {
	return func(r *Runner) {
		if interval > 0 {
			r.autosave = interval
		}
	}
}

func NewRunner(remote Remote, opts ...Option) *Runner {
	r := &Runner{
		remote:   remote,
		workers:  DefaultWorkers,
		attempts: DefaultAttempts,
		backoff:  time.Second,
		autosave: DefaultAutosave,
		log:      logger.WithModule("mirror"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run downloads every pending item of job. Files that still fail after all
// attempts stay pending in the job file and are reported in the returned
// error. The job file is saved periodically and once more at the end.
func (r *Runner) Run(ctx context.Context, job *Job) error {
	if err := job.Save(); err != nil {
		return fmt.Errorf("save job: %w", err)
	}

	saveCtx, stopSaving := context.WithCancel(ctx)
	saved := make(chan struct{})
	go func() {
		defer close(saved)
		ticker := time.NewTicker(r.autosave)
		defer ticker.Stop()
		for {
			select {
			case <-saveCtx.Done():
				return
			case <-ticker.C:
				if err := job.Save(); err != nil {
					r.log.Warn("could not save job file", zap.String("file", job.File()), zap.Error(err))
				}
			}
		}
	}()

	failures := make(chan error, r.workers)
	collected := make(chan struct{})
	var result *multierror.Error
	go func() {
		defer close(collected)
		for err := range failures {
			result = multierror.Append(result, err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		worker := i + 1
		g.Go(func() error {
			return r.work(gctx, job, worker, failures)
		})
	}
	runErr := g.Wait()
	close(failures)
	<-collected

	stopSaving()
	<-saved
	if err := job.Save(); err != nil {
		result = multierror.Append(result, fmt.Errorf("save job: %w", err))
	}
	if runErr != nil {
		result = multierror.Append(result, runErr)
	}
	return result.ErrorOrNil()
}

func (r *Runner) work(ctx context.Context, job *Job, worker int, failures chan<- error) error {
	log := r.log.With(zap.Int("worker", worker))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		i, remotePath, ok := job.claim()
		if !ok {
			return nil
		}

		log.Info("downloading", zap.String("path", remotePath))
		err := r.download(ctx, job, remotePath)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				job.finish(i, StatusPending)
				return err
			}
			log.Warn("download failed", zap.String("path", remotePath), zap.Error(err))
			job.finish(i, StatusFailed)
			failures <- fmt.Errorf("%s: %w", remotePath, err)
			continue
		}
		job.finish(i, StatusDone)
	}
}

func (r *Runner) download(ctx context.Context, job *Job, remotePath string) error {
	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}
		err = r.downloadOnce(ctx, job, remotePath)
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", r.attempts, err)
}

func (r *Runner) downloadOnce(ctx context.Context, job *Job, remotePath string) error {
	rc, err := r.remote.GetFile(ctx, path.Dir(remotePath), path.Base(remotePath))
	if err != nil {
		return err
	}
	defer rc.Close()
	return SaveRemoteFile(remotePath, job.SourceURL.Path, job.TargetDir, rc)
}
