package remotefs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCloser struct {
	io.Reader
	closes int
	err    error
}

func (c *countingCloser) Close() error {
	c.closes++
	return c.err
}

func TestAutoCloseReaderClosesOnceAtEOF(t *testing.T) {
	delegate := &countingCloser{Reader: bytes.NewReader([]byte("hello"))}
	actions := 0
	r := NewAutoCloseReader(delegate, func(error) error {
		actions++
		return nil
	})

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.True(t, r.IsClosed())

	for i := 0; i < 3; i++ {
		n, err := r.Read(make([]byte, 8))
		assert.Zero(t, n)
		assert.ErrorIs(t, err, io.EOF)
	}
	require.NoError(t, r.Close())

	assert.Equal(t, 1, actions)
	assert.Equal(t, 1, delegate.closes)
}

func TestAutoCloseReaderExplicitCloseBeforeEOF(t *testing.T) {
	delegate := &countingCloser{Reader: bytes.NewReader(make([]byte, 4096))}
	actions := 0
	r := NewAutoCloseReader(delegate, func(error) error {
		actions++
		return nil
	})

	_, err := r.Read(make([]byte, 10))
	require.NoError(t, err)
	assert.False(t, r.IsClosed())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.True(t, r.IsClosed())
	assert.Equal(t, 1, actions)
}

func TestAutoCloseReaderPassesDelegateErrorToAction(t *testing.T) {
	closeErr := errors.New("transfer aborted")
	delegate := &countingCloser{Reader: bytes.NewReader(nil), err: closeErr}
	var seen error
	r := NewAutoCloseReader(delegate, func(err error) error {
		seen = err
		return errors.New("cleanup failed")
	})

	require.ErrorIs(t, r.Close(), closeErr)
	assert.ErrorIs(t, seen, closeErr)
}

func TestAutoCloseReaderSwallowsActionPanic(t *testing.T) {
	delegate := &countingCloser{Reader: bytes.NewReader([]byte("x"))}
	r := NewAutoCloseReader(delegate, func(error) error {
		panic("boom")
	})

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
	assert.True(t, r.IsClosed())
}

func TestAutoCloseReaderConcurrentClose(t *testing.T) {
	delegate := &countingCloser{Reader: bytes.NewReader(nil)}
	var mu sync.Mutex
	actions := 0
	r := NewAutoCloseReader(delegate, func(error) error {
		mu.Lock()
		actions++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, actions)
}

type bufferCloser struct {
	bytes.Buffer
	closes int
}

func (b *bufferCloser) Close() error {
	b.closes++
	return nil
}

func TestCompletionWriterCompletesOnce(t *testing.T) {
	delegate := &bufferCloser{}
	completions := 0
	w := NewCompletionWriter(delegate, func(err error) error {
		completions++
		return err
	})

	_, err := w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.Equal(t, 1, completions)
	assert.Equal(t, 1, delegate.closes)
	assert.Equal(t, "payload", delegate.String())

	_, err = w.Write([]byte("late"))
	require.ErrorIs(t, err, os.ErrClosed)
}

func TestCompletionWriterReturnsCompletionError(t *testing.T) {
	failed := errors.New("426 transfer aborted")
	w := NewCompletionWriter(&bufferCloser{}, func(error) error { return failed })

	require.ErrorIs(t, w.Close(), failed)
	require.ErrorIs(t, w.Close(), failed)
}
