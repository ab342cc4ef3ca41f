package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeIntegrations()
	c.normalizeMonitor()
	c.normalizeSchedule()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeIntegrations() {
	c.Prowlarr.URL = strings.TrimRight(strings.TrimSpace(c.Prowlarr.URL), "/")
	c.Metasite.BaseURL = strings.TrimRight(strings.TrimSpace(c.Metasite.BaseURL), "/")
	c.QBittorrent.URL = strings.TrimRight(strings.TrimSpace(c.QBittorrent.URL), "/")
	c.Emule.Host = strings.TrimSpace(c.Emule.Host)
	if c.Emule.Host == "" {
		c.Emule.Host = defaultEmuleHost
	}
	if c.Emule.Port == 0 {
		c.Emule.Port = defaultEmulePort
	}
	if c.Ebdz.RatePerMinute <= 0 {
		c.Ebdz.RatePerMinute = 60
	}
	if c.Prowlarr.RatePerMinute <= 0 {
		c.Prowlarr.RatePerMinute = defaultRatePerMinute
	}
	if c.Metasite.RatePerMinute <= 0 {
		c.Metasite.RatePerMinute = defaultMetasiteRate
	}
}

func (c *Config) normalizeMonitor() {
	sources := make([]string, 0, len(c.Monitor.Sources))
	seen := map[string]struct{}{}
	for _, name := range c.Monitor.Sources {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		sources = append(sources, name)
	}
	if len(sources) == 0 {
		sources = []string{"ebdz", "prowlarr"}
	}
	c.Monitor.Sources = sources
	if c.Monitor.LocalFirstThreshold <= 0 {
		c.Monitor.LocalFirstThreshold = defaultLocalFirstThreshold
	}
	if c.Monitor.CacheTTLMinutes <= 0 {
		c.Monitor.CacheTTLMinutes = defaultCacheTTLMinutes
	}
}

func (c *Config) normalizeSchedule() {
	for _, job := range []*Job{&c.Schedule.Scan, &c.Schedule.CheckMissing, &c.Schedule.CheckNewVolumes} {
		job.Unit = strings.ToLower(strings.TrimSpace(job.Unit))
		if job.Unit == "" {
			job.Unit = "hours"
		}
		if job.Every <= 0 {
			job.Every = 1
		}
	}
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
