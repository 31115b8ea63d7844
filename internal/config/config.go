package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for daemon state and downloads.
type Paths struct {
	StateDir        string `toml:"state_dir"`
	DownloadDir     string `toml:"download_dir"`
	LogDir          string `toml:"log_dir"`
	ArtworkCacheDir string `toml:"artwork_cache_dir"`
}

// Server contains configuration for the upstream media server.
type Server struct {
	URL      string `toml:"url"`
	Token    string `toml:"token"`
	ServerID string `toml:"server_id"`
	ClientID string `toml:"client_id"`
}

// Transfer contains configuration for the download engine.
type Transfer struct {
	MaxConcurrent         int     `toml:"max_concurrent"`
	RequestTimeout        int     `toml:"request_timeout"`
	ProgressBucketPercent float64 `toml:"progress_bucket_percent"`
}

// Network contains configuration for constrained-network handling.
type Network struct {
	BlockConstrained  bool   `toml:"block_constrained"`
	MeteredMarkerPath string `toml:"metered_marker_path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Daemon contains configuration for the control API.
type Daemon struct {
	Bind string `toml:"bind"`
}

// Config encapsulates all configuration values for Spool.
//
// Configuration sections by subsystem:
//   - Paths: state, download, log, and artwork cache directories
//   - Server: upstream media server connection and identity
//   - Transfer: download engine concurrency and timeouts
//   - Network: constrained-network download gating
//   - Logging: log format and level
//   - Daemon: control API bind address
type Config struct {
	Paths    Paths    `toml:"paths"`
	Server   Server   `toml:"server"`
	Transfer Transfer `toml:"transfer"`
	Network  Network  `toml:"network"`
	Logging  Logging  `toml:"logging"`
	Daemon   Daemon   `toml:"daemon"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/spool/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/spool/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("spool.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// DownloadDir is created on a best-effort basis so the daemon can run when
// external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.ArtworkCacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.DownloadDir) != "" {
		// Best-effort to avoid failing config load when storage is offline.
		_ = os.MkdirAll(c.Paths.DownloadDir, 0o755)
	}
	return nil
}

// DatabasePath returns the SQLite database location inside the state directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "spool.db")
}

// CountsPath returns the episode count store location inside the state directory.
func (c *Config) CountsPath() string {
	return filepath.Join(c.Paths.StateDir, "episode_counts.json")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
