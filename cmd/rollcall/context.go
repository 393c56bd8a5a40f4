package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"rollcall/internal/apiclient"
	"rollcall/internal/config"
)

const envToken = "ROLLCALL_TOKEN"

type globalFlags struct {
	config string
	api    string
	token  string
	json   bool
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(c.flags.config)
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.flags.json
}

func (c *commandContext) baseURL() string {
	if api := strings.TrimSpace(c.flags.api); api != "" {
		return api
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.APIBaseURL()
	}
	return ""
}

func (c *commandContext) token() string {
	if token := strings.TrimSpace(c.flags.token); token != "" {
		return token
	}
	if token := strings.TrimSpace(os.Getenv(envToken)); token != "" {
		return token
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.Paths.APIToken
	}
	return ""
}

func (c *commandContext) client() *apiclient.Client {
	return apiclient.New(c.baseURL(), c.token())
}

func (c *commandContext) withClient(cmd *cobra.Command, fn func(context.Context, *apiclient.Client) error) error {
	client := c.client()
	if err := fn(cmd.Context(), client); err != nil {
		return wrapDialError(err, client.BaseURL())
	}
	return nil
}

func wrapDialError(err error, baseURL string) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: %s refused the connection; start the daemon with `rollcall start`", baseURL)
	case errors.Is(err, syscall.ENOENT):
		return fmt.Errorf("connect to daemon: %s not found; start the daemon with `rollcall start`", baseURL)
	default:
		return err
	}
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
