package ftp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	goftp "github.com/jlaffaye/ftp"
)

// memConn is an in-memory stand-in for an FTP control connection.
type memConn struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string][]byte
	cwd   string

	fail         map[string]error
	retrCloseErr error
	quits        int
}

func newMemConn() *memConn {
	return &memConn{
		dirs:  map[string]bool{"/": true},
		files: map[string][]byte{},
		cwd:   "/",
		fail:  map[string]error{},
	}
}

func (c *memConn) resolve(p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(c.cwd, p)
}

func (c *memConn) injected(op string) error {
	return c.fail[op]
}

func (c *memConn) mkdirAll(dir string) {
	for d := path.Clean(dir); ; d = path.Dir(d) {
		c.dirs[d] = true
		if d == "/" {
			return
		}
	}
}

func (c *memConn) put(p string, data []byte) {
	p = path.Clean(p)
	c.mkdirAll(path.Dir(p))
	c.files[p] = data
}

func (c *memConn) get(p string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[path.Clean(p)]
	return data, ok
}

func (c *memConn) ChangeDir(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.injected("cwd"); err != nil {
		return err
	}
	target := c.resolve(p)
	if !c.dirs[target] {
		return fmt.Errorf("550 %s: no such directory", target)
	}
	c.cwd = target
	return nil
}

func (c *memConn) ChangeDirToParent() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cwd = path.Dir(c.cwd)
	return nil
}

func (c *memConn) MakeDir(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.injected("mkd"); err != nil {
		return err
	}
	target := c.resolve(p)
	if !c.dirs[path.Dir(target)] {
		return fmt.Errorf("550 %s: parent missing", target)
	}
	c.dirs[target] = true
	return nil
}

func (c *memConn) List(p string) ([]*goftp.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.injected("list"); err != nil {
		return nil, err
	}
	dir := c.resolve(p)
	entries := []*goftp.Entry{
		{Name: ".", Type: goftp.EntryTypeFolder},
		{Name: "..", Type: goftp.EntryTypeFolder},
	}
	for d := range c.dirs {
		if d != "/" && path.Dir(d) == dir {
			entries = append(entries, &goftp.Entry{Name: path.Base(d), Type: goftp.EntryTypeFolder})
		}
	}
	for f, data := range c.files {
		if path.Dir(f) == dir {
			entries = append(entries, &goftp.Entry{
				Name: path.Base(f),
				Type: goftp.EntryTypeFile,
				Size: uint64(len(data)),
				Time: time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

type memResponse struct {
	io.Reader
	closeErr error
}

func (r *memResponse) Close() error { return r.closeErr }

func (c *memConn) Retr(p string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[c.resolve(p)]
	if !ok {
		return nil, errors.New("550 file not found")
	}
	return &memResponse{Reader: bytes.NewReader(data), closeErr: c.retrCloseErr}, nil
}

func (c *memConn) Stor(p string, r io.Reader) error {
	c.mu.Lock()
	if err := c.injected("stor"); err != nil {
		c.mu.Unlock()
		return err
	}
	target := c.resolve(p)
	c.mu.Unlock()

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[target] = data
	return nil
}

func (c *memConn) Delete(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.injected("dele"); err != nil {
		return err
	}
	target := c.resolve(p)
	if _, ok := c.files[target]; !ok {
		return &textproto.Error{Code: 550, Msg: "file not found"}
	}
	delete(c.files, target)
	return nil
}

func (c *memConn) Rename(from, to string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.injected("rnfr"); err != nil {
		return err
	}
	src, dst := c.resolve(from), c.resolve(to)
	data, ok := c.files[src]
	if !ok {
		return &textproto.Error{Code: 550, Msg: "file not found"}
	}
	if !c.dirs[path.Dir(dst)] {
		return &textproto.Error{Code: 553, Msg: "target directory missing"}
	}
	delete(c.files, src)
	c.files[dst] = data
	return nil
}

func (c *memConn) NoOp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.injected("noop")
}

func (c *memConn) Quit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quits++
	return c.injected("quit")
}
