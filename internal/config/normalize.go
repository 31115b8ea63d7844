package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeServer(); err != nil {
		return err
	}
	c.normalizeTransfer()
	if err := c.normalizeNetwork(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtworkCacheDir) == "" {
		c.Paths.ArtworkCacheDir = defaultArtworkCacheDir
	}
	if c.Paths.ArtworkCacheDir, err = expandPath(c.Paths.ArtworkCacheDir); err != nil {
		return fmt.Errorf("paths.artwork_cache_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() error {
	if c.Server.Token == "" {
		if value, ok := os.LookupEnv("SPOOL_SERVER_TOKEN"); ok {
			c.Server.Token = strings.TrimSpace(value)
		}
	}
	c.Server.URL = strings.TrimRight(strings.TrimSpace(c.Server.URL), "/")
	c.Server.Token = strings.TrimSpace(c.Server.Token)
	c.Server.ServerID = strings.TrimSpace(c.Server.ServerID)
	c.Server.ClientID = strings.TrimSpace(c.Server.ClientID)
	if c.Server.ClientID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Server.ClientID = "spool-" + host
		} else {
			c.Server.ClientID = "spool"
		}
	}
	return nil
}

func (c *Config) normalizeTransfer() {
	if c.Transfer.MaxConcurrent <= 0 {
		c.Transfer.MaxConcurrent = defaultTransferConcurrency
	}
	if c.Transfer.ProgressBucketPercent <= 0 {
		c.Transfer.ProgressBucketPercent = defaultProgressBucketPercent
	}
}

func (c *Config) normalizeNetwork() error {
	c.Network.MeteredMarkerPath = strings.TrimSpace(c.Network.MeteredMarkerPath)
	if c.Network.MeteredMarkerPath == "" {
		c.Network.MeteredMarkerPath = defaultMeteredMarkerPath
		return nil
	}
	expanded, err := expandPath(c.Network.MeteredMarkerPath)
	if err != nil {
		return fmt.Errorf("network.metered_marker_path: %w", err)
	}
	c.Network.MeteredMarkerPath = expanded
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
