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

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Ebdz configures the local ED2K index database maintained by an external crawler.
type Ebdz struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RatePerMinute int    `toml:"rate_per_minute"`
}

// Prowlarr configures the torrent indexer search API.
type Prowlarr struct {
	Enabled       bool    `toml:"enabled"`
	URL           string  `toml:"url"`
	APIKey        string  `toml:"api_key"` // sealed blob
	IndexerIDs    []int64 `toml:"indexer_ids"`
	Categories    []int64 `toml:"categories"`
	RatePerMinute int     `toml:"rate_per_minute"`
}

// Metasite configures the canonical metadata site used for completeness
// classification. It is never used as an acquisition source.
type Metasite struct {
	Enabled       bool   `toml:"enabled"`
	BaseURL       string `toml:"base_url"`
	RatePerMinute int    `toml:"rate_per_minute"`
}

// Emule configures the ED2K download client control channel.
type Emule struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"` // sealed blob
}

// QBittorrent configures the torrent download client WebUI.
type QBittorrent struct {
	Enabled  bool     `toml:"enabled"`
	URL      string   `toml:"url"`
	Username string   `toml:"username"`
	Password string   `toml:"password"` // sealed blob
	Category string   `toml:"category"`
	Tags     []string `toml:"tags"`
}

// Monitor contains acquisition defaults applied to newly monitored series.
type Monitor struct {
	Sources             []string `toml:"sources"`
	AutoSubmit          bool     `toml:"auto_submit"`
	LocalFirstThreshold int      `toml:"local_first_threshold"`
	CacheTTLMinutes     int      `toml:"cache_ttl_minutes"`
}

// Job configures one scheduled job.
type Job struct {
	Enabled bool   `toml:"enabled"`
	Every   int    `toml:"every"`
	Unit    string `toml:"unit"` // minutes, hours, days
}

// Schedule contains the three periodic jobs.
type Schedule struct {
	Scan            Job `toml:"scan"`
	CheckMissing    Job `toml:"check_missing"`
	CheckNewVolumes Job `toml:"check_new_volumes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tomarr.
//
// Configuration sections by subsystem:
//   - Paths: data/staging/log directories and API bind address
//   - Ebdz: local ED2K index database
//   - Prowlarr: torrent indexer search API
//   - Metasite: canonical metadata site scraping
//   - Emule / QBittorrent: download clients
//   - Monitor: acquisition defaults (sources, auto submit, cache TTL)
//   - Schedule: periodic job cadence
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Ebdz        Ebdz        `toml:"ebdz"`
	Prowlarr    Prowlarr    `toml:"prowlarr"`
	Metasite    Metasite    `toml:"metasite"`
	Emule       Emule       `toml:"emule"`
	QBittorrent QBittorrent `toml:"qbittorrent"`
	Monitor     Monitor     `toml:"monitor"`
	Schedule    Schedule    `toml:"schedule"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tomarr/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
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

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tomarr.toml")
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
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir, c.CoversDir()} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the primary catalog database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "manga_library.db")
}

// EbdzPath returns the location of the local ED2K index database.
func (c *Config) EbdzPath() string {
	if strings.TrimSpace(c.Ebdz.Path) != "" {
		return c.Ebdz.Path
	}
	return filepath.Join(c.Paths.DataDir, "ebdz.db")
}

// KeyPath returns the location of the symmetric secrets key.
func (c *Config) KeyPath() string {
	return filepath.Join(c.Paths.DataDir, ".encryption_key")
}

// CoversDir returns the directory holding downloaded cover images.
func (c *Config) CoversDir() string {
	return filepath.Join(c.Paths.DataDir, "covers")
}

// AmulecmdBinary returns the aMule control executable name.
func (c *Config) AmulecmdBinary() string {
	return "amulecmd"
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
