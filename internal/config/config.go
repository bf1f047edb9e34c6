// Package config loads the ftpclient configuration from a YAML file and
// FTPCLIENT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Endpoint EndpointConfig `mapstructure:"endpoint"`
	FTP      FTPConfig      `mapstructure:"ftp"`
	SFTP     SFTPConfig     `mapstructure:"sftp"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Polls    []PollConfig   `mapstructure:"polls" validate:"dive"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// EndpointConfig identifies the remote server. Port 0 means the protocol
// default.
type EndpointConfig struct {
	Protocol       string        `mapstructure:"protocol" validate:"required,oneof=ftp sftp"`
	Host           string        `mapstructure:"host" validate:"required"`
	Port           int           `mapstructure:"port" validate:"min=0,max=65535"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"min=0"`
	DataTimeout    time.Duration `mapstructure:"data_timeout" validate:"min=0"`
}

type FTPConfig struct {
	TransferMode string `mapstructure:"transfer_mode" validate:"oneof=binary ascii"`
	DisableEPSV  bool   `mapstructure:"disable_epsv"`
}

type SFTPConfig struct {
	KnownHostsFile string `mapstructure:"known_hosts_file"`
	IdentityFile   string `mapstructure:"identity_file"`
	Passphrase     string `mapstructure:"passphrase"`
}

type PoolConfig struct {
	MaxActive        int           `mapstructure:"max_active" validate:"min=1"`
	TestOnBorrow     bool          `mapstructure:"test_on_borrow"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time" validate:"min=0"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval" validate:"min=0"`
}

type PollConfig struct {
	Name           string        `mapstructure:"name" validate:"required"`
	Schedule       string        `mapstructure:"schedule"`
	Directory      string        `mapstructure:"directory"`
	Pattern        string        `mapstructure:"pattern"`
	TranslatedName string        `mapstructure:"translated_name"`
	DeleteAfterGet bool          `mapstructure:"delete_after_get"`
	Streaming      bool          `mapstructure:"streaming"`
	Archive        ArchiveConfig `mapstructure:"archive"`
}

type ArchiveConfig struct {
	Mode                       string `mapstructure:"mode" validate:"omitempty,oneof=none move rename"`
	MoveToDirectory            string `mapstructure:"move_to_directory"`
	FilenameExpression         string `mapstructure:"filename_expression"`
	OriginalFilenameExpression string `mapstructure:"original_filename_expression"`
}

type MetricsConfig struct {
	// Address serves /metrics when set, e.g. ":9090".
	Address string `mapstructure:"address"`
}

// Load reads path, or ftpclient.yaml from ./config or the working directory
// when path is empty. A missing file is not an error; defaults and the
// environment still apply. The result is not validated so that command line
// overrides can be applied first; call Validate before use.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ftpclient")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("FTPCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration Load produces without file or
// environment, minus the endpoint.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg, decodeHook())
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("endpoint.protocol", "ftp")
	v.SetDefault("endpoint.host", "")
	v.SetDefault("endpoint.port", 0)
	v.SetDefault("endpoint.user", "anonymous")
	v.SetDefault("endpoint.password", "")
	v.SetDefault("endpoint.connect_timeout", "10s")
	v.SetDefault("endpoint.data_timeout", "0s")

	v.SetDefault("ftp.transfer_mode", "binary")
	v.SetDefault("ftp.disable_epsv", false)

	v.SetDefault("sftp.known_hosts_file", "")
	v.SetDefault("sftp.identity_file", "")
	v.SetDefault("sftp.passphrase", "")

	v.SetDefault("pool.max_active", 5)
	v.SetDefault("pool.test_on_borrow", true)
	v.SetDefault("pool.max_idle_time", "0s")
	v.SetDefault("pool.eviction_interval", "30s")

	v.SetDefault("metrics.address", "")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
