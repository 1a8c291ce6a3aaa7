// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/huanhuan-chat/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web chat page",
		Long: `Serve the web chat page and its JSON API until interrupted.
All visitors share one conversation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			client := a.newClient()
			sess, err := a.newSession(client)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if client.CheckConnection(ctx) {
				sess.SelectModel(client.ModelNames(ctx))
			} else {
				a.logger.Warn("ollama not reachable", zap.String("url", client.BaseURL()))
			}

			srv := server.New(server.OptionsFromConfig(a.cfg), client, sess, a.logger)
			fmt.Fprintln(cmd.OutOrStdout(), TitleStyle.Render("👸 "+a.cfg.Persona.Title)+" "+
				ValueStyle.Render(fmt.Sprintf("http://%s", srv.Addr())))
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, "+server.DefaultAddr+")")
	return cmd
}
