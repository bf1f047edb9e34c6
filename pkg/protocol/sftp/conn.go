package sftp

import (
	"errors"
	"net"
	"os"
	"time"

	pkgsftp "github.com/pkg/sftp"
)

// deadlineConn bounds the SSH transport while a session operation is in
// flight. Between operations no deadline is set, so idle sessions stay
// connected. A nil *deadlineConn or a zero timeout disables it.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) arm() {
	if c == nil || c.timeout <= 0 {
		return
	}
	_ = c.Conn.SetDeadline(time.Now().Add(c.timeout))
}

func (c *deadlineConn) disarm() {
	if c == nil || c.timeout <= 0 {
		return
	}
	_ = c.Conn.SetDeadline(time.Time{})
}

// watchedFile re-arms the transport deadline around every call.
type watchedFile struct {
	f    *pkgsftp.File
	conn *deadlineConn
}

func (w watchedFile) Read(p []byte) (int, error) {
	w.conn.arm()
	defer w.conn.disarm()
	return w.f.Read(p)
}

func (w watchedFile) Write(p []byte) (int, error) {
	w.conn.arm()
	defer w.conn.disarm()
	return w.f.Write(p)
}

func (w watchedFile) Close() error {
	w.conn.arm()
	defer w.conn.disarm()
	return w.f.Close()
}

// refused reports whether err is a status reply from a server that is still
// in sync with the client, as opposed to a broken channel.
func refused(err error) bool {
	if errors.Is(err, pkgsftp.ErrSSHFxConnectionLost) || errors.Is(err, pkgsftp.ErrSSHFxNoConnection) {
		return false
	}
	var status *pkgsftp.StatusError
	return errors.As(err, &status) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission)
}
