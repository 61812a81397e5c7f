package config

const (
	defaultDataDir                    = "~/.local/share/uplink/data"
	defaultLogDir                     = "~/.local/share/uplink/logs"
	defaultUploadRequestTimeout       = 300
	defaultWorkflowConcurrency        = 2
	defaultWorkflowQueuePollInterval  = 5
	defaultWorkflowErrorRetryInterval = 10
	defaultWorkflowAttemptTimeout     = 900
	defaultWorkflowCancelAckTimeout   = 10
	defaultRetryMaxAttempts           = 3
	defaultRetryBaseDelay             = 2
	defaultRetryMaxDelay              = 60
	defaultRetryJitter                = 0.2
	defaultRetentionCompletedHours    = 24
	defaultRetentionPruneSchedule     = "@hourly"
	defaultEventsBufferSize           = 64
	defaultNotifyRequestTimeout       = 10
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Upload: Upload{
			RequestTimeout: defaultUploadRequestTimeout,
		},
		Workflow: Workflow{
			Concurrency:        defaultWorkflowConcurrency,
			QueuePollInterval:  defaultWorkflowQueuePollInterval,
			ErrorRetryInterval: defaultWorkflowErrorRetryInterval,
			AttemptTimeout:     defaultWorkflowAttemptTimeout,
			CancelAckTimeout:   defaultWorkflowCancelAckTimeout,
		},
		Retry: Retry{
			MaxAttempts: defaultRetryMaxAttempts,
			BaseDelay:   defaultRetryBaseDelay,
			MaxDelay:    defaultRetryMaxDelay,
			Jitter:      defaultRetryJitter,
		},
		Retention: Retention{
			CompletedHours: defaultRetentionCompletedHours,
			PruneSchedule:  defaultRetentionPruneSchedule,
		},
		Events: Events{
			BufferSize: defaultEventsBufferSize,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Uploads:        true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
