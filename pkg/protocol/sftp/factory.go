package sftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	pkgsftp "github.com/pkg/sftp"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/yarkm13/ftpclient/pkg/logger"
	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

const (
	DefaultPort           = 22
	DefaultConnectTimeout = 10 * time.Second
)

// Config describes one SFTP endpoint. Password and private key
// authentication may be combined; the key is tried first.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string

	// IdentityFile is read when Identity is empty.
	IdentityFile string
	Identity     []byte
	Passphrase   string

	// KnownHostsFile enables strict host key checking. Without it, and
	// without HostKeyCallback, any host key is accepted.
	KnownHostsFile  string
	HostKeyCallback gossh.HostKeyCallback

	ConnectTimeout time.Duration
	// DataTimeout bounds every session operation and every read or write
	// of a transfer. Zero disables it.
	DataTimeout    time.Duration
}

type Factory struct {
	cfg Config
	log *zap.Logger
}

type Option func(*Factory)

func WithLogger(log *zap.Logger) Option {
	return func(f *Factory) { f.log = log }
}

func NewFactory(cfg Config, opts ...Option) *Factory {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	f := &Factory{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logger.WithModule("sftp")
	}
	return f
}

func (f *Factory) Protocol() string { return "sftp" }

func (f *Factory) Endpoint() string {
	return "sftp://" + f.cfg.User + "@" + f.addr()
}

func (f *Factory) addr() string {
	return net.JoinHostPort(f.cfg.Host, strconv.Itoa(f.cfg.Port))
}

// Create dials the SSH server, authenticates and opens the sftp subsystem.
func (f *Factory) Create(ctx context.Context) (remotefs.Session, error) {
	clientConfig, err := f.clientConfig()
	if err != nil {
		return nil, f.connErr(remotefs.ConnectionUnknown, err)
	}

	dialer := net.Dialer{Timeout: f.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", f.addr())
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, f.connErr(remotefs.ConnectionUnknownHost, err)
		}
		return nil, f.connErr(remotefs.ConnectionUnreachable, err)
	}

	// the connect timeout covers the handshake and the subsystem start
	_ = conn.SetDeadline(time.Now().Add(f.cfg.ConnectTimeout))
	clientConn, chans, reqs, err := gossh.NewClientConn(conn, f.addr(), clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, f.connErr(classifyHandshakeError(err), err)
	}

	client := gossh.NewClient(clientConn, chans, reqs)
	sc, err := pkgsftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, f.connErr(remotefs.ConnectionUnknown, fmt.Errorf("open sftp subsystem: %w", err))
	}

	s, err := NewSession(sc, client, f.log)
	if err != nil {
		_ = sc.Close()
		_ = client.Close()
		return nil, f.connErr(remotefs.ConnectionUnknown, err)
	}
	_ = conn.SetDeadline(time.Time{})
	s.conn = &deadlineConn{Conn: conn, timeout: f.cfg.DataTimeout}
	f.log.Debug("sftp session created", zap.String("session", s.ID()), zap.String("endpoint", f.Endpoint()))
	return s, nil
}

func (f *Factory) clientConfig() (*gossh.ClientConfig, error) {
	auth, err := f.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := f.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &gossh.ClientConfig{
		User:            f.cfg.User,
		Auth:            auth,
		HostKeyCallback: checkingHostKey(hostKey),
		Timeout:         f.cfg.ConnectTimeout,
	}, nil
}

func (f *Factory) authMethods() ([]gossh.AuthMethod, error) {
	var methods []gossh.AuthMethod

	key := f.cfg.Identity
	if len(key) == 0 && f.cfg.IdentityFile != "" {
		data, err := os.ReadFile(f.cfg.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("read identity file: %w", err)
		}
		key = data
	}
	if len(key) > 0 {
		var (
			signer gossh.Signer
			err    error
		)
		if f.cfg.Passphrase != "" {
			signer, err = gossh.ParsePrivateKeyWithPassphrase(key, []byte(f.cfg.Passphrase))
		} else {
			signer, err = gossh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, gossh.PublicKeys(signer))
	}

	if f.cfg.Password != "" {
		methods = append(methods, gossh.Password(f.cfg.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("no authentication method configured")
	}
	return methods, nil
}

func (f *Factory) hostKeyCallback() (gossh.HostKeyCallback, error) {
	if f.cfg.HostKeyCallback != nil {
		return f.cfg.HostKeyCallback, nil
	}
	if f.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(f.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		return cb, nil
	}
	return gossh.InsecureIgnoreHostKey(), nil
}

func (f *Factory) connErr(kind remotefs.ConnectionKind, err error) error {
	return &remotefs.ConnectionError{
		Kind:     kind,
		Protocol: "sftp",
		Host:     f.cfg.Host,
		Port:     f.cfg.Port,
		User:     f.cfg.User,
		Err:      err,
	}
}

// hostKeyError marks a handshake that failed because the host key was
// rejected.
type hostKeyError struct {
	err error
}

func (e *hostKeyError) Error() string { return "host key rejected: " + e.err.Error() }

func (e *hostKeyError) Unwrap() error { return e.err }

func checkingHostKey(cb gossh.HostKeyCallback) gossh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key gossh.PublicKey) error {
		if err := cb(hostname, remote, key); err != nil {
			return &hostKeyError{err: err}
		}
		return nil
	}
}

// classifyHandshakeError separates host key rejections and stalled
// handshakes from failed authentication.
func classifyHandshakeError(err error) remotefs.ConnectionKind {
	var hkErr *hostKeyError
	if errors.As(err, &hkErr) {
		return remotefs.ConnectionUnknown
	}
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return remotefs.ConnectionUnreachable
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return remotefs.ConnectionBadCredentials
	}
	return remotefs.ConnectionUnknown
}
