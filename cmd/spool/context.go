package main

import (
	"fmt"
	"strings"
	"sync"

	"spool/internal/config"
	"spool/internal/daemonctl"
	"spool/internal/identity"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) client() (*daemonctl.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	bind := strings.TrimSpace(cfg.Daemon.Bind)
	if bind == "" {
		return nil, fmt.Errorf("daemon.bind is empty, the control API is disabled")
	}
	return daemonctl.New(bind), nil
}

// parseKey accepts either a full "serverID:ratingKey" or a bare rating key,
// which is qualified with the configured server.
func (c *commandContext) parseKey(arg string) (identity.GlobalKey, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("item key is required")
	}

	if strings.Contains(arg, identity.Separator) {
		key := identity.GlobalKey(arg)
		if !key.Valid() {
			return "", fmt.Errorf("malformed key %q, expected serverID:ratingKey", arg)
		}
		return key, nil
	}

	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return identity.MakeKey(cfg.Server.ServerID, arg)
}
