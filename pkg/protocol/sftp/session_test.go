package sftp

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarkm13/ftpclient/pkg/protocol/sftp/sftptest"
	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

func newTestSession(t *testing.T) (*Session, *sftptest.Server) {
	t.Helper()
	srv, err := sftptest.NewServer("bob", "secret")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	client, stop, err := srv.NewPipeClient()
	require.NoError(t, err)
	t.Cleanup(func() { _ = stop() })

	s, err := NewSession(client, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Destroy() })
	return s, srv
}

func writeFile(t *testing.T, s *Session, dir, name string, data []byte) {
	t.Helper()
	w, err := s.OpenWriter(dir, name)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readFile(t *testing.T, s *Session, dir, name string) []byte {
	t.Helper()
	r, err := s.OpenReader(dir, name, nil)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestSessionRoundTripBinary(t *testing.T) {
	s, _ := newTestSession(t)

	for _, size := range []int{0, 1, 2024, 70000} {
		data := bytes.Repeat([]byte("a\nb\r\n\xc3\xbc\x00"), size/8+1)[:size]
		writeFile(t, s, "/upload/deep", "blob.bin", data)
		assert.Equal(t, data, readFile(t, s, "/upload/deep", "blob.bin"), "size %d", size)
		require.NoError(t, s.Delete("/upload/deep", "blob.bin"))
	}
	assert.False(t, s.Invalid())
}

func TestSessionTracksRemoteWorkingDirectory(t *testing.T) {
	s, _ := newTestSession(t)
	writeFile(t, s, "/a/b/c", "f", []byte("x"))
	writeFile(t, s, "/a/b/d", "g", []byte("y"))

	require.NoError(t, s.ChangeWorkingDirectory("/a/b/c", false))
	assert.Equal(t, "/a/b/c", s.RemoteWorkingDirectory())

	require.NoError(t, s.ChangeWorkingDirectory("a/b/d", false))
	assert.Equal(t, "/a/b/d", s.RemoteWorkingDirectory())
	assert.Equal(t, "/a/b/d", s.CurrentDirectory())

	assert.Equal(t, []byte("y"), readFile(t, s, "a/b/d", "g"))
}

func TestSessionChangeIntoFileFails(t *testing.T) {
	s, _ := newTestSession(t)
	writeFile(t, s, "/dir", "plain", []byte("x"))

	err := s.ChangeWorkingDirectory("/dir/plain", false)
	require.Error(t, err)
	assert.True(t, s.Invalid())
	assert.False(t, s.Validate())
}

func TestSessionOnCloseRunsAfterEOF(t *testing.T) {
	s, _ := newTestSession(t)
	writeFile(t, s, "/in", "test.txt", []byte("Hello, world!"))

	calls := 0
	r, err := s.OpenReader("/in", "test.txt", func(owner remotefs.Session) {
		calls++
		assert.Same(t, s, owner)
		require.NoError(t, owner.Delete("/in", "test.txt"))
	})
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", string(data))
	require.NoError(t, r.Close())
	assert.Equal(t, 1, calls)

	files, err := s.List("/in")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSessionListAndMove(t *testing.T) {
	s, _ := newTestSession(t)
	writeFile(t, s, "/in", "a.txt", []byte("12345"))
	writeFile(t, s, "/archive", "keep", nil)
	require.NoError(t, s.ChangeWorkingDirectory("/in/sub", true))

	files, err := s.List("/in")
	require.NoError(t, err)
	require.Len(t, files, 2)
	byName := map[string]remotefs.RemoteFile{}
	for _, f := range files {
		byName[f.Name()] = f
	}
	assert.Equal(t, remotefs.FileTypeFile, byName["a.txt"].Type())
	assert.Equal(t, int64(5), byName["a.txt"].Size())
	assert.Equal(t, remotefs.FileTypeDirectory, byName["sub"].Type())

	require.NoError(t, s.Move("a.txt", "/archive/a.txt"))
	assert.Equal(t, []byte("12345"), readFile(t, s, "/archive", "a.txt"))
}

func TestSessionMoveOntoExistingTargetFails(t *testing.T) {
	s, _ := newTestSession(t)
	writeFile(t, s, "/in", "a", []byte("1"))
	writeFile(t, s, "/in", "b", []byte("2"))
	require.NoError(t, s.ChangeWorkingDirectory("/in", false))

	err := s.Move("a", "b")
	var opErr *remotefs.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "rename", opErr.Op)

	// the server refused; the channel is fine
	assert.False(t, s.Invalid())
	require.NoError(t, s.Move("a", "c"))
	assert.Equal(t, []byte("1"), readFile(t, s, "/in", "c"))
}

func TestSessionDeleteMissingKeepsSession(t *testing.T) {
	s, _ := newTestSession(t)
	writeFile(t, s, "/in", "a", []byte("1"))

	err := s.Delete("/in", "missing")
	var opErr *remotefs.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "delete", opErr.Op)
	assert.False(t, s.Invalid())

	require.NoError(t, s.Delete("/in", "a"))
	assert.True(t, s.Validate())
}

func TestSessionOpenMissingFileInvalidates(t *testing.T) {
	s, _ := newTestSession(t)
	writeFile(t, s, "/in", "a", nil)

	_, err := s.OpenReader("/in", "missing", nil)
	require.Error(t, err)
	assert.True(t, s.Invalid())
	require.ErrorIs(t, s.Delete("/in", "a"), remotefs.ErrInvalidSession)
}

func TestSessionDestroyIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t)
	assert.True(t, s.Validate())
	first := s.Destroy()
	assert.Equal(t, first, s.Destroy())
	assert.True(t, s.Invalid())
}
