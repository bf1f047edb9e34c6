package sftp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	pkgsftp "github.com/pkg/sftp"
	"go.uber.org/zap"

	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

// Session is a remotefs.Session over one SFTP subsystem channel. SFTP has no
// server side working directory, so the session keeps an absolute cwd and
// resolves every path against it.
type Session struct {
	id        string
	client    *pkgsftp.Client
	transport io.Closer
	dirs      *remotefs.DirectoryState
	nav       *navigator
	conn      *deadlineConn
	log       *zap.Logger

	// invalid keeps the session out of the pool; destroyed refuses all
	// further operations.
	invalid     atomic.Bool
	destroyed   atomic.Bool
	destroyOnce sync.Once
	destroyErr  error
}

var _ remotefs.Session = (*Session)(nil)

// NewSession wraps an SFTP client. transport, when not nil, is closed after
// the client on Destroy (typically the *ssh.Client carrying the channel).
func NewSession(client *pkgsftp.Client, transport io.Closer, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	wd, err := client.Getwd()
	if err != nil {
		return nil, fmt.Errorf("sftp: resolve home directory: %w", err)
	}
	id := uuid.NewString()
	nav := &navigator{client: client, cwd: path.Clean(wd)}
	return &Session{
		id:        id,
		client:    client,
		transport: transport,
		dirs:      remotefs.NewDirectoryState(nav),
		nav:       nav,
		log:       log.With(zap.String("session", id)),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) CurrentDirectory() string { return s.dirs.CurrentDirectory() }

// RemoteWorkingDirectory returns the absolute remote path the session
// resolves relative names against.
func (s *Session) RemoteWorkingDirectory() string { return s.nav.cwd }

func (s *Session) ChangeWorkingDirectory(dir string, create bool) error {
	defer s.watch()()
	return s.cd(dir, create)
}

func (s *Session) cd(dir string, create bool) error {
	if s.destroyed.Load() {
		return remotefs.ErrInvalidSession
	}
	if err := s.dirs.ChangeWorkingDirectory(dir, create); err != nil {
		return s.fail("cd", dir, err)
	}
	return nil
}

// watch arms the transport deadline and returns the func that clears it.
func (s *Session) watch() func() {
	s.conn.arm()
	return s.conn.disarm
}

func (s *Session) OpenWriter(dir, filename string) (io.WriteCloser, error) {
	defer s.watch()()
	if err := s.cd(dir, true); err != nil {
		return nil, err
	}
	p := s.nav.resolve(filename)
	f, err := s.client.Create(p)
	if err != nil {
		return nil, s.fail("create", p, err)
	}
	return remotefs.NewCompletionWriter(watchedFile{f: f, conn: s.conn}, func(closeErr error) error {
		if closeErr != nil {
			return s.fail("close", p, closeErr)
		}
		return nil
	}), nil
}

// OpenReader opens filename in dir. When closing the remote handle fails,
// onClose still runs on the live session and the session is destroyed
// afterwards.
func (s *Session) OpenReader(dir, filename string, onClose remotefs.CloseFunc) (io.ReadCloser, error) {
	defer s.watch()()
	if err := s.cd(dir, false); err != nil {
		return nil, err
	}
	p := s.nav.resolve(filename)
	f, err := s.client.Open(p)
	if err != nil {
		return nil, s.fail("open", p, err)
	}
	return remotefs.NewAutoCloseReader(watchedFile{f: f, conn: s.conn}, func(closeErr error) error {
		if closeErr != nil {
			s.log.Info("could not close remote file after get", zap.String("file", p), zap.Error(closeErr))
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

// Delete removes filename from dir. A refusal by the server leaves the
// session usable.
func (s *Session) Delete(dir, filename string) error {
	defer s.watch()()
	if err := s.cd(dir, false); err != nil {
		return err
	}
	p := s.nav.resolve(filename)
	if err := s.client.Remove(p); err != nil {
		return s.failUnlessRefused("delete", p, err)
	}
	return nil
}

// Move renames from to to. The SFTP rename request fails when the target
// already exists; like any refusal that leaves the session usable.
func (s *Session) Move(from, to string) error {
	if s.destroyed.Load() {
		return remotefs.ErrInvalidSession
	}
	defer s.watch()()
	src, dst := s.nav.resolve(from), s.nav.resolve(to)
	if err := s.client.Rename(src, dst); err != nil {
		return s.failUnlessRefused("rename", src+" -> "+dst, err)
	}
	return nil
}

func (s *Session) List(dir string) ([]remotefs.RemoteFile, error) {
	defer s.watch()()
	if err := s.cd(dir, false); err != nil {
		return nil, err
	}
	infos, err := s.client.ReadDir(s.nav.cwd)
	if err != nil {
		return nil, s.fail("list", s.nav.cwd, err)
	}
	files := make([]remotefs.RemoteFile, 0, len(infos))
	for _, fi := range infos {
		if fi.Name() == "." || fi.Name() == ".." {
			continue
		}
		files = append(files, remotefs.NewRemoteFile(fileType(fi.Mode()), fi.Name(), fi.Size(), fi.ModTime()))
	}
	return files, nil
}

// Validate round-trips a REALPATH request.
func (s *Session) Validate() bool {
	if s.invalid.Load() {
		return false
	}
	defer s.watch()()
	_, err := s.client.Getwd()
	return err == nil
}

func (s *Session) Invalid() bool { return s.invalid.Load() }

// Destroy closes the SFTP channel and then the transport.
func (s *Session) Destroy() error {
	s.destroyOnce.Do(func() {
		s.invalid.Store(true)
		s.destroyed.Store(true)
		s.conn.arm()
		var errs *multierror.Error
		if err := s.client.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = multierror.Append(errs, err)
		}
		if s.transport != nil {
			if err := s.transport.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		s.destroyErr = errs.ErrorOrNil()
		s.log.Debug("sftp session destroyed", zap.Error(s.destroyErr))
	})
	return s.destroyErr
}

func (s *Session) fail(op, p string, err error) error {
	if derr := s.Destroy(); derr != nil {
		s.log.Debug("ignoring error on cleanup", zap.Error(derr))
	}
	return &remotefs.OpError{Op: op, Path: p, Err: err}
}

func (s *Session) failUnlessRefused(op, p string, err error) error {
	if refused(err) {
		return &remotefs.OpError{Op: op, Path: p, Err: err}
	}
	return s.fail(op, p, err)
}

func fileType(mode os.FileMode) remotefs.FileType {
	switch {
	case mode.IsRegular():
		return remotefs.FileTypeFile
	case mode.IsDir():
		return remotefs.FileTypeDirectory
	case mode&os.ModeSymlink != 0:
		return remotefs.FileTypeSymlink
	default:
		return remotefs.FileTypeUnknown
	}
}

// navigator emulates a working directory on top of path based requests.
type navigator struct {
	client *pkgsftp.Client
	cwd    string
}

func (n *navigator) resolve(p string) string {
	p = strings.TrimSpace(p)
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(n.cwd, p)
}

func (n *navigator) enter(p string) error {
	fi, err := n.client.Stat(p)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s: not a directory", p)
	}
	n.cwd = p
	return nil
}

func (n *navigator) ChangeToAbsolute(dir string) error { return n.enter(n.resolve(dir)) }

func (n *navigator) ChangeToParent() error { return n.enter(path.Dir(n.cwd)) }

func (n *navigator) ChangeToChild(name string) error { return n.enter(path.Join(n.cwd, name)) }

func (n *navigator) CreateDirectory(name string) error {
	return n.client.Mkdir(path.Join(n.cwd, name))
}
