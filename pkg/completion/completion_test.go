package completion

import (
	"io"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yarkm13/ftpclient/pkg/expression"
	"github.com/yarkm13/ftpclient/pkg/logger"
	remotesftp "github.com/yarkm13/ftpclient/pkg/protocol/sftp"
	"github.com/yarkm13/ftpclient/pkg/protocol/sftp/sftptest"
	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

func newSession(t *testing.T) *remotesftp.Session {
	t.Helper()
	srv, err := sftptest.NewServer("bob", "secret")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	client, stop, err := srv.NewPipeClient()
	require.NoError(t, err)
	t.Cleanup(func() { _ = stop() })

	s, err := remotesftp.NewSession(client, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Destroy() })
	return s
}

func put(t *testing.T, s remotefs.Session, dir, name, content string) {
	t.Helper()
	w, err := s.OpenWriter(dir, name)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func names(t *testing.T, s remotefs.Session, dir string) []string {
	t.Helper()
	files, err := s.List(dir)
	require.NoError(t, err)
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsFile() {
			out = append(out, f.Name())
		}
	}
	sort.Strings(out)
	return out
}

// consume reads name from dir through a reader carrying the hook, the way
// polling does.
func consume(t *testing.T, s remotefs.Session, dir, name string, hook remotefs.CloseFunc) {
	t.Helper()
	r, err := s.OpenReader(dir, name, hook)
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

var props = expression.Properties{
	OriginalFilename: "a.txt",
	Filename:         "a.txt.ok",
	FileSize:         3,
	Timestamp:        time.Unix(0, 0),
}

func TestDeleteOrNothing(t *testing.T) {
	t.Run("keep", func(t *testing.T) {
		s := newSession(t)
		put(t, s, "/in", "a.txt", "abc")

		hook, err := DeleteOrNothing(false).Handler(props, "a.txt", "a.txt")
		require.NoError(t, err)
		consume(t, s, "/in", "a.txt", hook)
		assert.Equal(t, []string{"a.txt"}, names(t, s, "/in"))
	})

	t.Run("delete both", func(t *testing.T) {
		s := newSession(t)
		put(t, s, "/in", "a.txt", "abc")
		put(t, s, "/in", "a.txt.ok", "")
		put(t, s, "/in", "other", "x")

		hook, err := DeleteOrNothing(true).Handler(props, "a.txt", "a.txt.ok")
		require.NoError(t, err)
		consume(t, s, "/in", "a.txt.ok", hook)
		assert.Equal(t, []string{"other"}, names(t, s, "/in"))
	})
}

func TestArchiveToDirectory(t *testing.T) {
	t.Run("move both", func(t *testing.T) {
		s := newSession(t)
		put(t, s, "/in/archive", "keep", "")
		put(t, s, "/in", "a.txt", "abc")
		put(t, s, "/in", "a.txt.ok", "")

		hook, err := ArchiveToDirectory(false, "archive/").Handler(props, "a.txt", "a.txt.ok")
		require.NoError(t, err)
		consume(t, s, "/in", "a.txt.ok", hook)

		assert.Equal(t, []string{"a.txt", "a.txt.ok", "keep"}, names(t, s, "/in/archive"))
		assert.Empty(t, names(t, s, "/in"))
	})

	t.Run("delete original", func(t *testing.T) {
		s := newSession(t)
		put(t, s, "/archive", "keep", "")
		put(t, s, "/in", "a.txt", "abc")
		put(t, s, "/in", "a.txt.ok", "")

		hook, err := ArchiveToDirectory(true, "/archive").Handler(props, "a.txt", "a.txt.ok")
		require.NoError(t, err)
		consume(t, s, "/in", "a.txt.ok", hook)

		assert.Equal(t, []string{"a.txt.ok", "keep"}, names(t, s, "/archive"))
		assert.Empty(t, names(t, s, "/in"))
	})

	t.Run("same file moved once", func(t *testing.T) {
		s := newSession(t)
		put(t, s, "/archive", "keep", "")
		put(t, s, "/in", "a.txt", "abc")

		hook, err := ArchiveToDirectory(false, "/archive").Handler(props, "a.txt", "a.txt")
		require.NoError(t, err)
		consume(t, s, "/in", "a.txt", hook)

		assert.Equal(t, []string{"a.txt", "keep"}, names(t, s, "/archive"))
	})
}

func TestRenameWith(t *testing.T) {
	s := newSession(t)
	put(t, s, "/in", "a.txt", "abc")
	put(t, s, "/in", "a.txt.ok", "")

	hook, err := RenameWith(
		expression.MustParse("{{.filename}}.done"),
		expression.MustParse(`{{.originalFilename | trimSuffix ".txt"}}.bak`),
	).Handler(props, "a.txt", "a.txt.ok")
	require.NoError(t, err)
	consume(t, s, "/in", "a.txt.ok", hook)

	assert.Equal(t, []string{"a.bak", "a.txt.ok.done"}, names(t, s, "/in"))
}

func TestRenameWithBlankTargetDeletes(t *testing.T) {
	s := newSession(t)
	put(t, s, "/in", "a.txt", "abc")
	put(t, s, "/in", "a.txt.ok", "")

	hook, err := RenameWith(nil, expression.Literal(" ")).Handler(props, "a.txt", "a.txt.ok")
	require.NoError(t, err)
	consume(t, s, "/in", "a.txt.ok", hook)

	assert.Empty(t, names(t, s, "/in"))
}

func TestRenameWithEvaluationError(t *testing.T) {
	_, err := RenameWith(expression.MustParse("{{.missing}}"), nil).Handler(props, "a.txt", "a.txt")
	require.Error(t, err)
}

func observeWarnings(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(nil) })
	return logs
}

func TestArchiveFailureDoesNotBlockSecondFile(t *testing.T) {
	logs := observeWarnings(t)
	s := newSession(t)
	put(t, s, "/archive", "a.txt.ok", "earlier")
	put(t, s, "/in", "a.txt", "abc")
	put(t, s, "/in", "a.txt.ok", "")

	hook, err := ArchiveToDirectory(false, "/archive").Handler(props, "a.txt", "a.txt.ok")
	require.NoError(t, err)
	consume(t, s, "/in", "a.txt.ok", hook)

	assert.False(t, s.Invalid())
	assert.Equal(t, []string{"a.txt.ok"}, names(t, s, "/in"))
	assert.Equal(t, []string{"a.txt", "a.txt.ok"}, names(t, s, "/archive"))
	assert.Equal(t, 1, logs.FilterMessage("archiving failed").Len())
}

func TestDeleteFailureDoesNotBlockSecondFile(t *testing.T) {
	logs := observeWarnings(t)
	s := newSession(t)
	put(t, s, "/in", "a.txt.ok", "")

	hook, err := DeleteOrNothing(true).Handler(props, "a.txt", "a.txt.ok")
	require.NoError(t, err)
	consume(t, s, "/in", "a.txt.ok", hook)

	assert.False(t, s.Invalid())
	assert.Empty(t, names(t, s, "/in"))
	require.Equal(t, 1, logs.FilterMessage("could not delete file").Len())
	assert.Equal(t, "a.txt", logs.FilterMessage("could not delete file").All()[0].ContextMap()["file"])
}
