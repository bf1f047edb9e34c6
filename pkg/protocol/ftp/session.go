package ftp

import (
	"errors"
	"io"
	"net/textproto"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	goftp "github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

// Session is a remotefs.Session over one FTP control connection.
type Session struct {
	id   string
	conn Conn
	dirs *remotefs.DirectoryState
	log  *zap.Logger

	// invalid keeps the session out of the pool; destroyed refuses all
	// further operations.
	invalid     atomic.Bool
	destroyed   atomic.Bool
	destroyOnce sync.Once
	destroyErr  error

	mu       sync.Mutex
	transfer io.Closer
}

var _ remotefs.Session = (*Session)(nil)

// NewSession wraps an already authenticated connection.
func NewSession(conn Conn, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		id:   id,
		conn: conn,
		dirs: remotefs.NewDirectoryState(navigator{conn: conn}),
		log:  log.With(zap.String("session", id)),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CurrentDirectory() string { return s.dirs.CurrentDirectory() }

func (s *Session) ChangeWorkingDirectory(dir string, create bool) error {
	if s.destroyed.Load() {
		return remotefs.ErrInvalidSession
	}
	if err := s.dirs.ChangeWorkingDirectory(dir, create); err != nil {
		return s.fail("cd", dir, err)
	}
	return nil
}

// OpenWriter starts a STOR of filename in dir. Bytes written are piped into
// the transfer; Close waits for the server to confirm it.
func (s *Session) OpenWriter(dir, filename string) (io.WriteCloser, error) {
	if err := s.ChangeWorkingDirectory(dir, true); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	s.track(abortOnClose{pw})
	done := make(chan error, 1)
	go func() {
		err := s.conn.Stor(filename, pr)
		// unblock writers if the server stopped reading early
		if err != nil {
			pr.CloseWithError(err)
		} else {
			_ = pr.Close()
		}
		done <- err
	}()

	path := s.path(filename)
	return remotefs.NewCompletionWriter(pw, func(closeErr error) error {
		err := <-done
		s.track(nil)
		if err != nil {
			return s.fail("stor", path, err)
		}
		return closeErr
	}), nil
}

// OpenReader starts a RETR of filename in dir. The returned reader closes
// itself at EOF; closing reads the final transfer reply. When that reply is
// not a success, onClose still runs on the live connection and the session
// is destroyed afterwards.
func (s *Session) OpenReader(dir, filename string, onClose remotefs.CloseFunc) (io.ReadCloser, error) {
	if err := s.ChangeWorkingDirectory(dir, false); err != nil {
		return nil, err
	}

	rc, err := s.conn.Retr(filename)
	if err != nil {
		return nil, s.fail("retr", s.path(filename), err)
	}
	s.track(rc)

	return remotefs.NewAutoCloseReader(rc, func(closeErr error) error {
		s.track(nil)
		if closeErr != nil {
			s.log.Info("could not complete transfer after get", zap.String("file", filename), zap.Error(closeErr))
			s.invalid.Store(true)
		}
		if onClose != nil {
			onClose(s)
		}
		if closeErr != nil {
			return s.Destroy()
		}
		return nil
	}), nil
}

// Delete removes filename from dir. A negative reply from the server leaves
// the session usable.
func (s *Session) Delete(dir, filename string) error {
	if err := s.ChangeWorkingDirectory(dir, false); err != nil {
		return err
	}
	if err := s.conn.Delete(filename); err != nil {
		return s.failUnlessRefused("delete", s.path(filename), err)
	}
	return nil
}

// Move sends RNFR/RNTO. A negative reply from the server leaves the session
// usable.
func (s *Session) Move(from, to string) error {
	if s.destroyed.Load() {
		return remotefs.ErrInvalidSession
	}
	if err := s.conn.Rename(from, to); err != nil {
		return s.failUnlessRefused("rename", from+" -> "+to, err)
	}
	return nil
}

func (s *Session) List(dir string) ([]remotefs.RemoteFile, error) {
	if err := s.ChangeWorkingDirectory(dir, false); err != nil {
		return nil, err
	}
	entries, err := s.conn.List("")
	if err != nil {
		return nil, s.fail("list", dir, err)
	}

	files := make([]remotefs.RemoteFile, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.Name == "." || e.Name == ".." {
			continue
		}
		files = append(files, remotefs.NewRemoteFile(fileType(e.Type), e.Name, int64(e.Size), e.Time))
	}
	return files, nil
}

// Validate sends a NOOP.
func (s *Session) Validate() bool {
	if s.invalid.Load() {
		return false
	}
	return s.conn.NoOp() == nil
}

func (s *Session) Invalid() bool { return s.invalid.Load() }

// Destroy aborts a transfer still in progress, sends QUIT and closes the
// control connection. Only the first call talks to the server.
func (s *Session) Destroy() error {
	s.destroyOnce.Do(func() {
		s.invalid.Store(true)
		s.destroyed.Store(true)

		var errs *multierror.Error
		s.mu.Lock()
		transfer := s.transfer
		s.transfer = nil
		s.mu.Unlock()
		if transfer != nil {
			if err := transfer.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if err := s.conn.Quit(); err != nil {
			errs = multierror.Append(errs, err)
		}
		s.destroyErr = errs.ErrorOrNil()
		s.log.Debug("ftp session destroyed", zap.Error(s.destroyErr))
	})
	return s.destroyErr
}

// abortOnClose fails an upload instead of completing it with the bytes
// written so far.
type abortOnClose struct {
	pw *io.PipeWriter
}

func (a abortOnClose) Close() error { return a.pw.CloseWithError(remotefs.ErrInvalidSession) }

func (s *Session) track(c io.Closer) {
	s.mu.Lock()
	s.transfer = c
	s.mu.Unlock()
}

// fail destroys the session and wraps err. Destroy errors are only logged.
func (s *Session) fail(op, path string, err error) error {
	if derr := s.Destroy(); derr != nil {
		s.log.Debug("ignoring error on cleanup", zap.Error(derr))
	}
	return &remotefs.OpError{Op: op, Path: path, Err: err}
}

// failUnlessRefused keeps the session when err is a reply code from the
// server, since the control connection is still in sync.
func (s *Session) failUnlessRefused(op, path string, err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) {
		return &remotefs.OpError{Op: op, Path: path, Err: err}
	}
	return s.fail(op, path, err)
}

func (s *Session) path(filename string) string {
	if p, err := remotefs.CompletePath(s.CurrentDirectory(), filename); err == nil {
		return p
	}
	return filename
}

func fileType(t goftp.EntryType) remotefs.FileType {
	switch t {
	case goftp.EntryTypeFile:
		return remotefs.FileTypeFile
	case goftp.EntryTypeFolder:
		return remotefs.FileTypeDirectory
	case goftp.EntryTypeLink:
		return remotefs.FileTypeSymlink
	default:
		return remotefs.FileTypeUnknown
	}
}

type navigator struct {
	conn Conn
}

func (n navigator) ChangeToAbsolute(dir string) error { return n.conn.ChangeDir(dir) }
func (n navigator) ChangeToParent() error             { return n.conn.ChangeDirToParent() }
func (n navigator) ChangeToChild(name string) error   { return n.conn.ChangeDir(name) }
func (n navigator) CreateDirectory(name string) error { return n.conn.MakeDir(name) }
