package config

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/yarkm13/ftpclient/pkg/pool"
	"github.com/yarkm13/ftpclient/pkg/protocol/ftp"
	"github.com/yarkm13/ftpclient/pkg/protocol/sftp"
)

// FactoryOptions carry runtime collaborators that cannot live in a file.
type FactoryOptions struct {
	Logger *zap.Logger
	// HostKeyCallback overrides sftp.known_hosts_file.
	HostKeyCallback ssh.HostKeyCallback
}

// FactoryBuilder builds session factories for one protocol.
type FactoryBuilder interface {
	Accept(protocol string) bool
	Build(cfg *Config, opts FactoryOptions) pool.Factory
	Name() string
}

var factoryBuilders = []FactoryBuilder{
	ftpBuilder{},
	sftpBuilder{},
}

func getFactoryBuilder(protocol string) FactoryBuilder {
	for _, b := range factoryBuilders {
		if b.Accept(protocol) {
			return b
		}
	}
	return nil
}

// NewFactory returns the session factory for cfg.Endpoint.Protocol.
func NewFactory(cfg *Config, opts FactoryOptions) (pool.Factory, error) {
	b := getFactoryBuilder(cfg.Endpoint.Protocol)
	if b == nil {
		return nil, fmt.Errorf("no connector available for protocol %q", cfg.Endpoint.Protocol)
	}
	return b.Build(cfg, opts), nil
}

// NewPool creates the session pool described by cfg.Pool.
func NewPool(cfg *Config, factory pool.Factory, log *zap.Logger) (*pool.Pool, error) {
	return pool.New(factory, pool.Options{
		MaxActive:        cfg.Pool.MaxActive,
		TestOnBorrow:     cfg.Pool.TestOnBorrow,
		MaxIdleTime:      cfg.Pool.MaxIdleTime,
		EvictionInterval: cfg.Pool.EvictionInterval,
		Logger:           log,
	})
}

type ftpBuilder struct{}

func (ftpBuilder) Accept(protocol string) bool { return protocol == "ftp" }

func (ftpBuilder) Name() string { return "ftp" }

func (ftpBuilder) Build(cfg *Config, opts FactoryOptions) pool.Factory {
	var fopts []ftp.Option
	if opts.Logger != nil {
		fopts = append(fopts, ftp.WithLogger(opts.Logger))
	}
	return ftp.NewFactory(ftp.Config{
		Host:           cfg.Endpoint.Host,
		Port:           cfg.Endpoint.Port,
		User:           cfg.Endpoint.User,
		Password:       cfg.Endpoint.Password,
		ConnectTimeout: cfg.Endpoint.ConnectTimeout,
		DataTimeout:    cfg.Endpoint.DataTimeout,
		TransferMode:   ftp.TransferMode(cfg.FTP.TransferMode),
		DisableEPSV:    cfg.FTP.DisableEPSV,
	}, fopts...)
}

type sftpBuilder struct{}

func (sftpBuilder) Accept(protocol string) bool { return protocol == "sftp" }

func (sftpBuilder) Name() string { return "sftp" }

func (sftpBuilder) Build(cfg *Config, opts FactoryOptions) pool.Factory {
	var sopts []sftp.Option
	if opts.Logger != nil {
		sopts = append(sopts, sftp.WithLogger(opts.Logger))
	}
	return sftp.NewFactory(sftp.Config{
		Host:            cfg.Endpoint.Host,
		Port:            cfg.Endpoint.Port,
		User:            cfg.Endpoint.User,
		Password:        cfg.Endpoint.Password,
		IdentityFile:    cfg.SFTP.IdentityFile,
		Passphrase:      cfg.SFTP.Passphrase,
		KnownHostsFile:  cfg.SFTP.KnownHostsFile,
		HostKeyCallback: opts.HostKeyCallback,
		ConnectTimeout:  cfg.Endpoint.ConnectTimeout,
		DataTimeout:     cfg.Endpoint.DataTimeout,
	}, sopts...)
}
