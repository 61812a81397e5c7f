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
	c.normalizeUpload()
	c.normalizeRetry()
	c.normalizeRetention()
	c.normalizeEvents()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeUpload() {
	c.Upload.Endpoint = strings.TrimSpace(c.Upload.Endpoint)
	if c.Upload.Endpoint == "" {
		if value, ok := os.LookupEnv("UPLINK_ENDPOINT"); ok {
			c.Upload.Endpoint = strings.TrimSpace(value)
		}
	}
	if c.Upload.AuthToken == "" {
		if value, ok := os.LookupEnv("UPLINK_AUTH_TOKEN"); ok {
			c.Upload.AuthToken = value
		}
	}
	c.Upload.AuthToken = strings.TrimSpace(c.Upload.AuthToken)
	if c.Upload.RequestTimeout <= 0 {
		c.Upload.RequestTimeout = defaultUploadRequestTimeout
	}
}

func (c *Config) normalizeRetry() {
	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = defaultRetryJitter
	}
}

func (c *Config) normalizeRetention() {
	c.Retention.PruneSchedule = strings.TrimSpace(c.Retention.PruneSchedule)
	if c.Retention.PruneSchedule == "" {
		c.Retention.PruneSchedule = defaultRetentionPruneSchedule
	}
}

func (c *Config) normalizeEvents() {
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = defaultEventsBufferSize
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
