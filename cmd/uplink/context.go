package main

import (
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"uplink/internal/config"
	"uplink/internal/queue"
)

// defaultOwner is used when neither --owner nor UPLINK_OWNER selects a scope.
const defaultOwner = "default"

type commandContext struct {
	configFlag *string
	ownerFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, ownerFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		ownerFlag:  ownerFlag,
	}
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

// owner resolves the owner scope for this invocation: the --owner flag wins,
// then UPLINK_OWNER, then the shared default scope.
func (c *commandContext) owner() string {
	if c.ownerFlag != nil {
		if owner := strings.TrimSpace(*c.ownerFlag); owner != "" {
			return owner
		}
	}
	if owner := strings.TrimSpace(os.Getenv("UPLINK_OWNER")); owner != "" {
		return owner
	}
	return defaultOwner
}

// withStore opens the shared queue database for the duration of one command.
// The store uses WAL mode, so reads and writes coexist with a running daemon.
func (c *commandContext) withStore(fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
