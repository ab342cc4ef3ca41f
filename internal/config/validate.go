package config

import (
	"errors"
	"fmt"
	"strings"
)

var validJobUnits = map[string]struct{}{
	"minutes": {},
	"hours":   {},
	"days":    {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateProwlarr(); err != nil {
		return err
	}
	if err := c.validateMetasite(); err != nil {
		return err
	}
	if err := c.validateClients(); err != nil {
		return err
	}
	if err := c.validateMonitor(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	return nil
}

func (c *Config) validateProwlarr() error {
	if !c.Prowlarr.Enabled {
		return nil
	}
	if c.Prowlarr.URL == "" {
		return errors.New("prowlarr.url must be set when prowlarr.enabled is true")
	}
	if strings.TrimSpace(c.Prowlarr.APIKey) == "" {
		return errors.New("prowlarr.api_key must be set when prowlarr.enabled is true")
	}
	return nil
}

func (c *Config) validateMetasite() error {
	if !c.Metasite.Enabled {
		return nil
	}
	if c.Metasite.BaseURL == "" {
		return errors.New("metasite.base_url must be set when metasite.enabled is true")
	}
	return nil
}

func (c *Config) validateClients() error {
	if c.Emule.Enabled && c.Emule.Port <= 0 {
		return errors.New("emule.port must be positive")
	}
	if c.QBittorrent.Enabled && c.QBittorrent.URL == "" {
		return errors.New("qbittorrent.url must be set when qbittorrent.enabled is true")
	}
	return nil
}

func (c *Config) validateMonitor() error {
	for _, name := range c.Monitor.Sources {
		switch name {
		case "ebdz", "prowlarr":
		default:
			return fmt.Errorf("monitor.sources: unknown source %q", name)
		}
	}
	return nil
}

func (c *Config) validateSchedule() error {
	jobs := map[string]Job{
		"scan":              c.Schedule.Scan,
		"check_missing":     c.Schedule.CheckMissing,
		"check_new_volumes": c.Schedule.CheckNewVolumes,
	}
	for name, job := range jobs {
		if _, ok := validJobUnits[job.Unit]; !ok {
			return fmt.Errorf("schedule.%s.unit must be minutes, hours, or days", name)
		}
		if job.Every <= 0 {
			return fmt.Errorf("schedule.%s.every must be positive", name)
		}
	}
	return nil
}
