package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateTransfer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.URL == "" {
		return errors.New("server.url must be set")
	}
	parsed, err := url.Parse(c.Server.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("server.url %q is not a valid URL", c.Server.URL)
	}
	if c.Server.Token == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/spool/config.toml"
		}
		return fmt.Errorf("server.token is required. Set SPOOL_SERVER_TOKEN env var or edit %s (create with 'spool config init')", defaultPath)
	}
	if c.Server.ServerID == "" {
		return errors.New("server.server_id must be set")
	}
	if strings.Contains(c.Server.ServerID, ":") {
		return errors.New("server.server_id must not contain ':'")
	}
	return nil
}

func (c *Config) validateTransfer() error {
	return ensurePositiveMap(map[string]int{
		"transfer.max_concurrent":  c.Transfer.MaxConcurrent,
		"transfer.request_timeout": c.Transfer.RequestTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.Bind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Daemon.Bind); err != nil {
		return fmt.Errorf("daemon.bind %q is not a valid host:port address", c.Daemon.Bind)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
