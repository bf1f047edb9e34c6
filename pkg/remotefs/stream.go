package remotefs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/yarkm13/ftpclient/pkg/logger"
)

// CloseAction runs once after the delegate of an AutoCloseReader has been
// closed. closeErr is the delegate's close error.
type CloseAction func(closeErr error) error

// AutoCloseReader forwards reads to its delegate and closes itself as soon
// as the delegate reports io.EOF. Close runs at most once regardless of
// whether it was triggered by EOF or by the caller.
type AutoCloseReader struct {
	delegate io.ReadCloser
	action   CloseAction

	once     sync.Once
	closed   atomic.Bool
	closeErr error
}

func NewAutoCloseReader(delegate io.ReadCloser, action CloseAction) *AutoCloseReader {
	return &AutoCloseReader{delegate: delegate, action: action}
}

func (r *AutoCloseReader) Read(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, io.EOF
	}
	n, err := r.delegate.Read(p)
	if errors.Is(err, io.EOF) {
		_ = r.Close()
		return n, io.EOF
	}
	return n, err
}

// Close closes the delegate and runs the close action. Errors and panics of
// the action are logged, never returned. The delegate's close error is.
func (r *AutoCloseReader) Close() error {
	r.once.Do(func() {
		r.closed.Store(true)
		r.closeErr = r.delegate.Close()
		if r.action == nil {
			return
		}
		if err := runCloseAction(r.action, r.closeErr); err != nil {
			logger.WithModule("remotefs").Warn("close action failed", zap.Error(err))
		}
	})
	return r.closeErr
}

func (r *AutoCloseReader) IsClosed() bool {
	return r.closed.Load()
}

func runCloseAction(action CloseAction, closeErr error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("close action panicked: %v", rec)
		}
	}()
	return action(closeErr)
}

// CompletionWriter forwards writes to its delegate. The first Close closes
// the delegate and then runs complete; later calls return the same result.
type CompletionWriter struct {
	delegate io.WriteCloser
	complete func(closeErr error) error

	once   sync.Once
	closed atomic.Bool
	err    error
}

func NewCompletionWriter(delegate io.WriteCloser, complete func(closeErr error) error) *CompletionWriter {
	return &CompletionWriter{delegate: delegate, complete: complete}
}

func (w *CompletionWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, os.ErrClosed
	}
	return w.delegate.Write(p)
}

func (w *CompletionWriter) Close() error {
	w.once.Do(func() {
		w.closed.Store(true)
		err := w.delegate.Close()
		if w.complete != nil {
			err = w.complete(err)
		}
		w.err = err
	})
	return w.err
}
