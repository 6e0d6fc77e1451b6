package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Config - корневая структура конфигурации ноды.
// Мастер и секундари читают один и тот же файл, каждый берёт свою секцию.
type Config struct {
	Logger     LoggerConfig     `yaml:"logger"`
	Server     ServerConfig     `yaml:"http-server"`
	Master     MasterConfig     `yaml:"master"`
	Secondary  SecondaryConfig  `yaml:"secondary"`
	Membership MembershipConfig `yaml:"membership"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type MasterConfig struct {
	ID string `yaml:"id"`
	// Secondaries are registered at startup, in order.
	Secondaries []string `yaml:"secondaries"`
	// WriteConcernTimeout bounds how long a submission waits for acks.
	WriteConcernTimeout time.Duration `yaml:"write_concern_timeout"`
	// RequestTimeout bounds one delivery attempt to a secondary.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryInitial   time.Duration `yaml:"retry_initial"`
	RetryMax       time.Duration `yaml:"retry_max"`
}

type SecondaryConfig struct {
	ID string `yaml:"id"`
	// ReplicationDelay is slept before every apply.
	ReplicationDelay time.Duration `yaml:"replication_delay"`
	// ErrorRate is the probability of answering 500 after a successful apply.
	ErrorRate float64 `yaml:"error_rate"`
	// MasterURL, when set, makes the secondary register itself on startup.
	MasterURL string `yaml:"master_url"`
	// AdvertiseURL is the address the master should use to reach this node.
	AdvertiseURL string `yaml:"advertise_url"`
}

type MembershipConfig struct {
	// ZKServers enables ZooKeeper discovery when non-empty.
	ZKServers      []string      `yaml:"zk_servers"`
	Root           string        `yaml:"root"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Master: MasterConfig{
			ID:                  "master",
			WriteConcernTimeout: 10 * time.Second,
			RequestTimeout:      10 * time.Second,
			RetryInitial:        time.Second,
			RetryMax:            10 * time.Second,
		},
		Secondary: SecondaryConfig{
			ID:               "secondary-" + uuid.NewString()[:8],
			ReplicationDelay: 0,
			ErrorRate:        0,
		},
		Membership: MembershipConfig{
			Root:           "/replog",
			SessionTimeout: 5 * time.Second,
		},
	}
}

var ErrInvalid = errors.New("invalid config")

// Validate reports every problem at once.
func (c Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Logger.Level {
	case "DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error":
	default:
		add("logger.level %q", c.Logger.Level)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("http-server.port %d out of range", c.Server.Port)
	}
	if c.Server.ReadHeaderTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		add("http-server timeouts must not be negative")
	}

	positive := map[string]time.Duration{
		"master.write_concern_timeout": c.Master.WriteConcernTimeout,
		"master.request_timeout":       c.Master.RequestTimeout,
		"master.retry_initial":         c.Master.RetryInitial,
		"master.retry_max":             c.Master.RetryMax,
	}
	for name, d := range positive {
		if d <= 0 {
			add("%s must be positive, got %s", name, d)
		}
	}
	if c.Master.RetryMax > 0 && c.Master.RetryInitial > c.Master.RetryMax {
		add("master.retry_initial %s exceeds retry_max %s", c.Master.RetryInitial, c.Master.RetryMax)
	}
	for _, s := range c.Master.Secondaries {
		if err := checkURL(s); err != nil {
			add("master.secondaries: %v", err)
		}
	}

	if c.Secondary.ReplicationDelay < 0 {
		add("secondary.replication_delay must not be negative")
	}
	if c.Secondary.ErrorRate < 0 || c.Secondary.ErrorRate > 1 {
		add("secondary.error_rate %v not in [0, 1]", c.Secondary.ErrorRate)
	}
	for name, u := range map[string]string{
		"secondary.master_url":    c.Secondary.MasterURL,
		"secondary.advertise_url": c.Secondary.AdvertiseURL,
	} {
		if u == "" {
			continue
		}
		if err := checkURL(u); err != nil {
			add("%s: %v", name, err)
		}
	}

	if len(c.Membership.ZKServers) > 0 && c.Membership.Root == "" {
		add("membership.root is required with zk_servers")
	}

	return result.ErrorOrNil()
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) url", raw)
	}
	return nil
}
