// Package sftptest runs an in-process SSH server exposing an in-memory SFTP
// filesystem, for tests of code built on the sftp protocol adapter.
package sftptest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	pkgsftp "github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"
)

// Server accepts SSH connections on a loopback port and serves the "sftp"
// subsystem from one in-memory filesystem shared by all connections.
type Server struct {
	Host     string
	Port     int
	User     string
	Password string
	HostKey  gossh.PublicKey

	ln       net.Listener
	config   *gossh.ServerConfig
	handlers pkgsftp.Handlers

	mu         sync.Mutex
	authorized [][]byte
	conns      map[net.Conn]struct{}
	wg         sync.WaitGroup
}

func NewServer(user, password string) (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	addr := ln.Addr().(*net.TCPAddr)

	s := &Server{
		Host:     "127.0.0.1",
		Port:     addr.Port,
		User:     user,
		Password: password,
		HostKey:  signer.PublicKey(),
		ln:       ln,
		handlers: pkgsftp.InMemHandler(),
		conns:    map[net.Conn]struct{}{},
	}
	s.config = &gossh.ServerConfig{
		PasswordCallback: func(meta gossh.ConnMetadata, pass []byte) (*gossh.Permissions, error) {
			if meta.User() == s.User && s.Password != "" && string(pass) == s.Password {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
		PublicKeyCallback: func(meta gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			if meta.User() == s.User && s.isAuthorized(key) {
				return nil, nil
			}
			return nil, errors.New("key rejected")
		},
	}
	s.config.AddHostKey(signer)

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AuthorizeKey allows public key authentication with key.
func (s *Server) AuthorizeKey(key gossh.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = append(s.authorized, key.Marshal())
}

func (s *Server) isAuthorized(key gossh.PublicKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.authorized {
		if bytes.Equal(k, key.Marshal()) {
			return true
		}
	}
	return false
}

// ConnectionCount returns the number of SSH connections currently open.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// NewPipeClient returns an SFTP client talking to the same filesystem over
// an in-memory pipe, without SSH. The returned closer stops the server side.
func (s *Server) NewPipeClient() (*pkgsftp.Client, func() error, error) {
	clientSide, serverSide := net.Pipe()
	srv := pkgsftp.NewRequestServer(serverSide, s.handlers)
	go func() { _ = srv.Serve() }()

	client, err := pkgsftp.NewClientPipe(clientSide, clientSide)
	if err != nil {
		_ = srv.Close()
		return nil, nil, err
	}
	return client, srv.Close, nil
}

func (s *Server) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	sconn, chans, reqs, err := gossh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go gossh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(gossh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}
		go s.serveChannel(channel, requests)
	}
}

func (s *Server) serveChannel(channel gossh.Channel, requests <-chan *gossh.Request) {
	for req := range requests {
		ok := req.Type == "subsystem" && subsystemName(req.Payload) == "sftp"
		_ = req.Reply(ok, nil)
		if !ok {
			continue
		}
		go func() {
			srv := pkgsftp.NewRequestServer(channel, s.handlers)
			_ = srv.Serve()
			_ = srv.Close()
		}()
	}
}

func subsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload)
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}

// String describes the server for test logs.
func (s *Server) String() string {
	return fmt.Sprintf("sftptest.Server{%s@%s}", s.User, s.Addr())
}
