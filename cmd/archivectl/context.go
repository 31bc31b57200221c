package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"archive/api/internal/client"
	"archive/api/internal/config"
	"archive/api/internal/logging"
	"archive/api/internal/upload"
	"archive/api/internal/workspace"
)

var errNotLoggedIn = errors.New("not signed in; run `archivectl login` first")

type commandContext struct {
	configFlag *string
	serverFlag *string
	logLevel   *string
	jsonOutput *bool

	settingsOnce sync.Once
	settings     settings
	settingsErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag, serverFlag, logLevel *string, jsonOutput *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		serverFlag: serverFlag,
		logLevel:   logLevel,
		jsonOutput: jsonOutput,
	}
}

func (c *commandContext) settingsPath() string {
	if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
		return strings.TrimSpace(*c.configFlag)
	}
	return defaultSettingsPath()
}

func (c *commandContext) ensureSettings() (settings, error) {
	c.settingsOnce.Do(func() {
		s, err := loadSettings(c.settingsPath())
		if err != nil {
			c.settingsErr = err
			return
		}
		if c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != "" {
			s.Server = strings.TrimSpace(*c.serverFlag)
		}
		c.settings = s
	})
	return c.settings, c.settingsErr
}

func (c *commandContext) saveSettings(s settings) error {
	if err := saveSettings(c.settingsPath(), s); err != nil {
		return err
	}
	c.settings = s
	return nil
}

func (c *commandContext) json() bool {
	return c.jsonOutput != nil && *c.jsonOutput
}

func (c *commandContext) log() *slog.Logger {
	c.loggerOnce.Do(func() {
		level := "warn"
		if c.logLevel != nil {
			level = *c.logLevel
		}
		logger, err := logging.New(logging.Options{Level: level, Format: "auto", Output: os.Stderr})
		if err != nil {
			logger = logging.Discard()
		}
		c.logger = logger
	})
	return c.logger
}

// anonymousClient talks to the server without a session.
func (c *commandContext) anonymousClient() (*client.Client, settings, error) {
	s, err := c.ensureSettings()
	if err != nil {
		return nil, settings{}, err
	}
	return client.New(s.Server, "", client.WithLogger(c.log())), s, nil
}

// sessionClient requires a stored token.
func (c *commandContext) sessionClient() (*client.Client, settings, error) {
	s, err := c.ensureSettings()
	if err != nil {
		return nil, settings{}, err
	}
	if strings.TrimSpace(s.Token) == "" {
		return nil, settings{}, errNotLoggedIn
	}
	return client.New(s.Server, s.Token, client.WithLogger(c.log())), s, nil
}

// policy returns the ingest policy from the settings' policy file, or the
// built-in limits.
func (c *commandContext) policy(s settings) (upload.Policy, error) {
	if strings.TrimSpace(s.PolicyFile) == "" {
		return upload.DefaultPolicy(), nil
	}
	p, err := config.LoadIngestPolicy(s.PolicyFile)
	if err != nil {
		return upload.Policy{}, err
	}
	return p.UploadPolicy(), nil
}

// openWorkspace loads the signed in owner's profile into a workspace.
func (c *commandContext) openWorkspace(ctx context.Context) (*workspace.Workspace, *client.Client, settings, error) {
	cli, s, err := c.sessionClient()
	if err != nil {
		return nil, nil, settings{}, err
	}
	view, err := cli.LoadProfile(ctx, s.ProfileID)
	if err != nil {
		return nil, nil, settings{}, describe(err)
	}
	ws := workspace.New(view.Profile, view.Items, cli, workspace.WithLogger(c.log()))
	return ws, cli, s, nil
}

// describe turns client errors into messages fit for the terminal.
func describe(err error) error {
	if err == nil {
		return nil
	}
	if client.IsCode(err, "UNAUTHORIZED") {
		return fmt.Errorf("%s Run `archivectl login` to start a new session.", client.UserMessage(err))
	}
	var appErr *client.ApplicationError
	if errors.As(err, &appErr) {
		return fmt.Errorf("%s (%s)", client.UserMessage(err), appErr.Code)
	}
	return errors.New(client.UserMessage(err))
}
