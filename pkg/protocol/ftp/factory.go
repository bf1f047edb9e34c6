package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	goftp "github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/yarkm13/ftpclient/pkg/logger"
	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

const (
	DefaultPort           = 21
	DefaultConnectTimeout = 10 * time.Second
)

// TransferMode selects the FTP representation type used for transfers.
type TransferMode string

const (
	TransferBinary TransferMode = "binary"
	TransferASCII  TransferMode = "ascii"
)

func (m TransferMode) transferType() (goftp.TransferType, error) {
	switch TransferMode(strings.ToLower(string(m))) {
	case "", TransferBinary:
		return goftp.TransferTypeBinary, nil
	case TransferASCII:
		return goftp.TransferTypeASCII, nil
	default:
		return "", fmt.Errorf("unsupported transfer mode %q", string(m))
	}
}

// Config describes one FTP endpoint. Only passive mode is supported.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	ConnectTimeout time.Duration
	// DataTimeout bounds every read or write on the control and data
	// connections. Zero disables it.
	DataTimeout  time.Duration
	TransferMode TransferMode
	DisableEPSV  bool
}

// Factory creates authenticated FTP sessions.
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
		f.log = logger.WithModule("ftp")
	}
	return f
}

func (f *Factory) Protocol() string { return "ftp" }

func (f *Factory) Endpoint() string {
	return "ftp://" + f.cfg.User + "@" + net.JoinHostPort(f.cfg.Host, strconv.Itoa(f.cfg.Port))
}

// Create dials, logs in and applies the transfer mode. Failures are
// reported as *remotefs.ConnectionError and never leave a socket open.
func (f *Factory) Create(ctx context.Context) (remotefs.Session, error) {
	mode, err := f.cfg.TransferMode.transferType()
	if err != nil {
		return nil, f.connErr(remotefs.ConnectionUnknown, err)
	}

	dialer := &net.Dialer{Timeout: f.cfg.ConnectTimeout}
	dataTimeout := f.cfg.DataTimeout
	addr := net.JoinHostPort(f.cfg.Host, strconv.Itoa(f.cfg.Port))

	// the dial func serves the control connection and every passive data
	// connection, so it must not capture the borrower's context
	c, err := goftp.Dial(addr,
		goftp.DialWithDisabledEPSV(f.cfg.DisableEPSV),
		goftp.DialWithDialFunc(func(network, address string) (net.Conn, error) {
			conn, err := dialer.Dial(network, address)
			if err != nil {
				return nil, err
			}
			return withIdleTimeout(conn, dataTimeout), nil
		}),
	)
	if err != nil {
		return nil, f.connErr(classifyDialError(err), err)
	}

	if err := ctx.Err(); err != nil {
		_ = c.Quit()
		return nil, f.connErr(remotefs.ConnectionUnreachable, err)
	}

	if err := c.Login(f.cfg.User, f.cfg.Password); err != nil {
		_ = c.Quit()
		return nil, f.connErr(remotefs.ConnectionBadCredentials, err)
	}

	if err := c.Type(mode); err != nil {
		_ = c.Quit()
		return nil, f.connErr(remotefs.ConnectionUnknown, err)
	}

	s := NewSession(serverConn{c}, f.log)
	f.log.Debug("ftp session created", zap.String("session", s.ID()), zap.String("endpoint", f.Endpoint()))
	return s, nil
}

func (f *Factory) connErr(kind remotefs.ConnectionKind, err error) error {
	return &remotefs.ConnectionError{
		Kind:     kind,
		Protocol: "ftp",
		Host:     f.cfg.Host,
		Port:     f.cfg.Port,
		User:     f.cfg.User,
		Err:      err,
	}
}

// classifyDialError maps resolver failures to UnknownHost and everything
// else during dial and greeting to Unreachable.
func classifyDialError(err error) remotefs.ConnectionKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return remotefs.ConnectionUnknownHost
	}
	return remotefs.ConnectionUnreachable
}
