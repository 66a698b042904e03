// Package config implements flag + environment-variable configuration for
// the ussyncd daemon, mirroring usld's argument set and defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Config holds every daemon setting, flag-parsed. TCPPort, WSPort, Bind,
// LogLevel, DB and Password also take their defaults from USSL_* environment
// variables; the remaining settings are read from flags only.
type Config struct {
	TCPPort  int
	WSPort   int
	Bind     string
	LogLevel string
	NoTCP    bool
	NoWS     bool
	DB       string
	Password string
	TLSCert  string
	TLSKey   string

	RateLimit float64
	RateBurst float64

	MetricsAddr string
	ShardIndex  int64
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Parse parses args (normally os.Args[1:]) into a Config, applying the
// USSL_* environment variables as defaults a flag can still override.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("ussyncd", flag.ContinueOnError)

	cfg := &Config{}
	fs.IntVar(&cfg.TCPPort, "tcp-port", envInt("USSL_TCP_PORT", 6380), "TCP port to listen on")
	fs.IntVar(&cfg.WSPort, "ws-port", envInt("USSL_WS_PORT", 6381), "WebSocket port to listen on")
	fs.StringVar(&cfg.Bind, "bind", envString("USSL_BIND", "0.0.0.0"), "Bind address")
	fs.StringVar(&cfg.LogLevel, "log-level", envString("USSL_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.NoTCP, "no-tcp", false, "Disable the TCP server")
	fs.BoolVar(&cfg.NoWS, "no-ws", false, "Disable the WebSocket server")
	fs.StringVar(&cfg.DB, "db", envString("USSL_DB", ""), "Persistence backend address (empty: in-memory only)")
	fs.StringVar(&cfg.Password, "password", envString("USSL_PASSWORD", ""), "Require authentication with this password")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "PEM certificate chain path (requires --tls-key)")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "PEM private key path (requires --tls-cert)")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", 0, "Requests per second per connection (0 disables rate limiting)")
	fs.Float64Var(&cfg.RateBurst, "rate-burst", 0, "Burst size override (0: 2x rate-limit)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Address to serve Prometheus /metrics on (empty disables it)")
	fs.Int64Var(&cfg.ShardIndex, "shard-index", 0, "This instance's shard index, used to seed unique delta sequence IDs across a fleet")
	_ = fs.String("config", "", "Configuration file path (accepted, but the file is not read)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the CLI contract: TLS cert/key must be paired, and at
// least one transport must remain enabled.
func (c *Config) Validate() error {
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("--tls-cert and --tls-key must be given together")
	}
	if c.NoTCP && c.NoWS {
		return fmt.Errorf("at least one transport must be enabled (remove --no-tcp or --no-ws)")
	}
	return nil
}
