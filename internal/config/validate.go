package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.Endpoint == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/uplink/config.toml"
		}
		return fmt.Errorf("upload.endpoint is required. Edit %s (create with 'uplink config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Upload.Endpoint)
	if err != nil {
		return fmt.Errorf("upload.endpoint is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("upload.endpoint must use http or https, got %q", parsed.Scheme)
	}
	if c.Upload.RequestTimeout <= 0 {
		return errors.New("upload.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Concurrency < 1 || c.Workflow.Concurrency > 32 {
		return errors.New("workflow.concurrency must be between 1 and 32")
	}
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.attempt_timeout":      c.Workflow.AttemptTimeout,
		"workflow.cancel_ack_timeout":   c.Workflow.CancelAckTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.AttemptTimeout <= c.Upload.RequestTimeout {
		return errors.New("workflow.attempt_timeout must be greater than upload.request_timeout")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 {
		return errors.New("retry.base_delay must be positive (seconds)")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry.max_delay must be greater than or equal to retry.base_delay")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.New("retry.jitter must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.CompletedHours <= 0 {
		return errors.New("retention.completed_hours must be positive")
	}
	if _, err := cron.ParseStandard(c.Retention.PruneSchedule); err != nil {
		return fmt.Errorf("retention.prune_schedule is not a valid cron expression: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if strings.TrimSpace(c.Notifications.NtfyTopic) == "" {
		return nil
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive (seconds)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
