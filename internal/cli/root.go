// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/huanhuan-chat/internal/config"
	"github.com/jeranaias/huanhuan-chat/internal/logging"
	"github.com/jeranaias/huanhuan-chat/internal/ollama"
	"github.com/jeranaias/huanhuan-chat/internal/session"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// app holds the flags and the state built from them before any command
// runs.
type app struct {
	configPath string
	verbose    bool
	ollamaURL  string
	model      string
	historyDir string

	cfg    *config.Config
	logger *zap.Logger
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}

// NewRootCmd builds the huanhuan command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "huanhuan",
		Short: "Chat with 嬛嬛, a persona model served by a local Ollama",
		Long: `huanhuan talks to the huanhuan-qwen model through the Ollama HTTP API.

Run without arguments to start the interactive chat. Use "serve" for the
web chat page. Conversations can be saved to and loaded from JSON
transcripts in the history directory.`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.huanhuan/config.toml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&a.ollamaURL, "ollama-url", "", "Ollama API base URL")
	flags.StringVarP(&a.model, "model", "m", "", "model to chat with")
	flags.StringVar(&a.historyDir, "history-dir", "", "directory for saved transcripts")

	root.AddCommand(
		newChatCmd(a),
		newAskCmd(a),
		newServeCmd(a),
		newModelsCmd(a),
		newStatusCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, a.verbose)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// loadConfig reads the config file and applies command line overrides,
// which take precedence over the file and the environment.
func (a *app) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		if err := config.LoadDotEnv(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if a.ollamaURL != "" {
		cfg.Ollama.URL = a.ollamaURL
	}
	if a.model != "" {
		cfg.Ollama.Model = a.model
	}
	if a.historyDir != "" {
		cfg.History.Dir = a.historyDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newClient returns an Ollama client for the loaded configuration.
func (a *app) newClient() *ollama.Client {
	return ollama.NewClientWithConfig(a.cfg.ClientConfig())
}

// newSession starts a conversation with the configured generation
// parameters.
func (a *app) newSession(gen session.Generator) (*session.Session, error) {
	sess := session.New(gen, a.cfg.NewStore(), a.logger)
	if err := sess.SetParams(a.cfg.Generation); err != nil {
		return nil, err
	}
	return sess, nil
}
