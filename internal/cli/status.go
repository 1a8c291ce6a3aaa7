// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection and configuration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			client := a.newClient()

			connected := client.CheckConnection(ctx)
			fmt.Fprintln(out, TitleStyle.Render("🔗 连接状态"))
			if connected {
				fmt.Fprintf(out, "  %s %s Ollama服务已连接\n", RenderLabel("ollama"), RenderStatus(true))
			} else {
				fmt.Fprintf(out, "  %s %s Ollama服务未连接\n", RenderLabel("ollama"), RenderStatus(false))
			}
			fmt.Fprintf(out, "  %s %s\n", RenderLabel("url"), ValueStyle.Render(client.BaseURL()))

			modelLine := client.Model()
			if connected {
				if slices.Contains(client.ModelNames(ctx), client.Model()) {
					modelLine += " " + SuccessStyle.Render("(available)")
				} else {
					modelLine += " " + WarningStyle.Render("(not pulled)")
				}
			}
			fmt.Fprintf(out, "  %s %s\n", RenderLabel("model"), modelLine)

			store := a.cfg.NewStore()
			files, err := store.List()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s %s (%d)\n", RenderLabel("history"), ValueStyle.Render(store.Dir), len(files))

			p := a.cfg.Generation
			fmt.Fprintf(out, "  %s temperature=%.1f top_p=%.1f top_k=%d max_tokens=%d\n",
				RenderLabel("generation"), p.Temperature, p.TopP, p.TopK, p.MaxTokens)
			return nil
		},
	}
}

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available on the Ollama server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			client := a.newClient()

			models, err := client.ListModels(ctx)
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Fprintln(out, WarningStyle.Render("没有找到可用模型"))
				return nil
			}
			for _, m := range models {
				marker := "  "
				if m.Name == client.Model() {
					marker = "* "
				}
				fmt.Fprintf(out, "%s%s %s\n", marker, m.Name, DimStyle.Render(formatSize(m.Size)))
			}
			return nil
		},
	}
}

// formatSize renders a byte count with a binary unit.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
