// Package connector exposes the request/response and polling operations of
// a remote file endpoint on top of a session pool.
package connector

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/yarkm13/ftpclient/pkg/logger"
	"github.com/yarkm13/ftpclient/pkg/metrics"
	"github.com/yarkm13/ftpclient/pkg/pool"
	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

// Connector runs file operations against one endpoint. Each operation
// borrows a session for its duration; streams keep theirs until closed.
type Connector struct {
	pool *pool.Pool
	log  *zap.Logger
}

type Option func(*Connector)

func WithLogger(log *zap.Logger) Option {
	return func(c *Connector) {
		if log != nil {
			c.log = log
		}
	}
}

func New(p *pool.Pool, opts ...Option) *Connector {
	c := &Connector{
		pool: p,
		log:  logger.WithModule("connector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("endpoint", p.Endpoint()))
	return c
}

// OpenReader opens filename in dir for reading. The stream closes itself at
// EOF. onClose, if set, runs with the session once the stream is closed, and
// the session goes back to the pool afterwards.
func (c *Connector) OpenReader(ctx context.Context, dir, filename string, onClose remotefs.CloseFunc) (io.ReadCloser, error) {
	return c.openReader(ctx, dir, filename, onClose, nil)
}

// openReader is OpenReader with an abandon check: when abandoned reports
// true at close time, onClose is skipped and the session invalidated.
func (c *Connector) openReader(ctx context.Context, dir, filename string, onClose remotefs.CloseFunc, abandoned func() bool) (io.ReadCloser, error) {
	s, err := c.pool.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.OpenReader(dir, filename, c.releaseAfter(onClose, abandoned))
	if err != nil {
		c.pool.Release(s, err)
		return nil, err
	}
	return &meteredReader{ReadCloser: r, direction: "download"}, nil
}

func (c *Connector) releaseAfter(onClose remotefs.CloseFunc, abandoned func() bool) remotefs.CloseFunc {
	return func(s remotefs.Session) {
		if abandoned != nil && abandoned() {
			_ = c.pool.Invalidate(s)
			return
		}
		completed := false
		defer func() {
			if completed {
				c.pool.Release(s, nil)
			} else {
				_ = c.pool.Invalidate(s)
			}
		}()
		if onClose != nil {
			onClose(s)
		}
		completed = true
	}
}

// OpenWriter opens filename in dir for writing, creating dir when missing.
// Closing the writer completes the upload and releases the session.
func (c *Connector) OpenWriter(ctx context.Context, dir, filename string) (io.WriteCloser, error) {
	s, err := c.pool.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	w, err := s.OpenWriter(dir, filename)
	if err != nil {
		c.pool.Release(s, err)
		return nil, err
	}
	return remotefs.NewCompletionWriter(&meteredWriter{WriteCloser: w}, func(closeErr error) error {
		c.pool.Release(s, closeErr)
		return closeErr
	}), nil
}

// PutFile uploads content to dir/filename. dir is created when missing.
func (c *Connector) PutFile(ctx context.Context, dir, filename string, content io.Reader) error {
	return c.pool.WithSession(ctx, func(s remotefs.Session) error {
		w, err := s.OpenWriter(dir, filename)
		if err != nil {
			return err
		}
		n, err := io.Copy(w, content)
		metrics.TransferredBytes.WithLabelValues("upload").Add(float64(n))
		if err != nil {
			_ = w.Close()
			return fmt.Errorf("put %s: %w", filename, err)
		}
		return w.Close()
	})
}

// GetFile opens dir/filename as a stream. The caller must close it.
func (c *Connector) GetFile(ctx context.Context, dir, filename string) (io.ReadCloser, error) {
	return c.OpenReader(ctx, dir, filename, nil)
}

// ReadFile returns the whole content of dir/filename.
func (c *Connector) ReadFile(ctx context.Context, dir, filename string) ([]byte, error) {
	r, err := c.GetFile(ctx, dir, filename)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Connector) Delete(ctx context.Context, dir, filename string) error {
	return c.pool.WithSession(ctx, func(s remotefs.Session) error {
		return s.Delete(dir, filename)
	})
}

func (c *Connector) List(ctx context.Context, dir string) ([]remotefs.RemoteFile, error) {
	var files []remotefs.RemoteFile
	err := c.pool.WithSession(ctx, func(s remotefs.Session) error {
		var err error
		files, err = s.List(dir)
		return err
	})
	return files, err
}

// Rename moves originalDir/originalFilename to newDir/newFilename, where
// newDir is relative to originalDir unless it is absolute.
func (c *Connector) Rename(ctx context.Context, originalDir, originalFilename, newDir, newFilename string) error {
	to, err := remotefs.CompletePath(newDir, newFilename)
	if err != nil {
		return err
	}
	return c.pool.WithSession(ctx, func(s remotefs.Session) error {
		if err := s.ChangeWorkingDirectory(originalDir, false); err != nil {
			return err
		}
		return s.Move(originalFilename, to)
	})
}

// TestConnection opens and closes a session outside the pool.
func (c *Connector) TestConnection(ctx context.Context) error {
	s, err := c.pool.Factory().Create(ctx)
	if err != nil {
		return err
	}
	if err := s.Destroy(); err != nil {
		c.log.Debug("ignoring error on cleanup", zap.Error(err))
	}
	return nil
}

// ActiveConnections returns the number of sessions currently in use.
func (c *Connector) ActiveConnections() int {
	return c.pool.ActiveConnections()
}

// Close closes the pool. Open streams must be closed first.
func (c *Connector) Close() {
	c.pool.Close()
}

type meteredReader struct {
	io.ReadCloser
	direction string
}

func (r *meteredReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	metrics.TransferredBytes.WithLabelValues(r.direction).Add(float64(n))
	return n, err
}

type meteredWriter struct {
	io.WriteCloser
}

func (w *meteredWriter) Write(p []byte) (int, error) {
	n, err := w.WriteCloser.Write(p)
	metrics.TransferredBytes.WithLabelValues("upload").Add(float64(n))
	return n, err
}
