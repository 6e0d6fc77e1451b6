package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Environment variables understood by ApplyEnv. Durations accept either a
// Go duration ("1.5s") or a plain number of seconds ("1.5").
const (
	EnvPort                = "REPLOG_PORT"
	EnvSecondaries         = "SECONDARIES"
	EnvWriteConcernTimeout = "WRITE_CONCERN_TIMEOUT_SECONDS"
	EnvRequestTimeout      = "SECONDARY_REQUEST_TIMEOUT"
	EnvRetryInitial        = "RETRY_DELAY_INITIAL"
	EnvRetryMax            = "RETRY_DELAY_MAX"
	EnvReplicationDelay    = "REPLICATION_DELAY"
	EnvErrorRate           = "ERROR_RATE"
	EnvServerID            = "SERVER_ID"
	EnvMasterURL           = "MASTER_URL"
	EnvSecondaryURL        = "SECONDARY_URL"
	EnvZKServers           = "ZK_SERVERS"
	EnvLogLevel            = "LOG_LEVEL"
	EnvLogJSON             = "LOG_JSON"
)

// ApplyEnv overrides cfg with the variables returned by lookup
// (os.LookupEnv when nil). SERVER_ID sets both node ids.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var result *multierror.Error
	fail := func(name string, err error) {
		result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
	}

	if v, ok := lookup(EnvPort); ok {
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			fail(EnvPort, err)
		} else {
			cfg.Server.Port = p
		}
	}
	if v, ok := lookup(EnvSecondaries); ok {
		cfg.Master.Secondaries = splitList(v)
	}
	if v, ok := lookup(EnvZKServers); ok {
		cfg.Membership.ZKServers = splitList(v)
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{EnvWriteConcernTimeout, &cfg.Master.WriteConcernTimeout},
		{EnvRequestTimeout, &cfg.Master.RequestTimeout},
		{EnvRetryInitial, &cfg.Master.RetryInitial},
		{EnvRetryMax, &cfg.Master.RetryMax},
		{EnvReplicationDelay, &cfg.Secondary.ReplicationDelay},
	}
	for _, d := range durations {
		v, ok := lookup(d.name)
		if !ok {
			continue
		}
		parsed, err := ParseSeconds(v)
		if err != nil {
			fail(d.name, err)
			continue
		}
		*d.dst = parsed
	}

	if v, ok := lookup(EnvErrorRate); ok {
		r, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			fail(EnvErrorRate, err)
		} else {
			cfg.Secondary.ErrorRate = r
		}
	}
	if v, ok := lookup(EnvServerID); ok && v != "" {
		cfg.Master.ID = v
		cfg.Secondary.ID = v
	}
	if v, ok := lookup(EnvMasterURL); ok {
		cfg.Secondary.MasterURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvSecondaryURL); ok {
		cfg.Secondary.AdvertiseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logger.Level = v
	}
	if v, ok := lookup(EnvLogJSON); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(EnvLogJSON, err)
		} else {
			cfg.Logger.JSON = b
		}
	}

	return result.ErrorOrNil()
}

// ParseSeconds parses a Go duration or a number of seconds.
func ParseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q as duration: %w", v, err)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
