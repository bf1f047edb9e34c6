package ftp

import (
	"io"
	"net"
	"time"

	goftp "github.com/jlaffaye/ftp"
)

// Conn is the subset of *ftp.ServerConn a Session drives. Retr is narrowed
// to io.ReadCloser so the session does not depend on the concrete response
// type.
type Conn interface {
	ChangeDir(path string) error
	ChangeDirToParent() error
	MakeDir(path string) error
	List(path string) ([]*goftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Delete(path string) error
	Rename(from, to string) error
	NoOp() error
	Quit() error
}

type serverConn struct {
	*goftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := c.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// idleTimeoutConn pushes the read and write deadlines forward before every
// I/O call so a stalled control or data channel fails after timeout.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func withIdleTimeout(c net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return c
	}
	return &idleTimeoutConn{Conn: c, timeout: timeout}
}

func (c *idleTimeoutConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *idleTimeoutConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
