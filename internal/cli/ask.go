// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single prompt command for huanhuan CLI.
//
// Examples:
//   huanhuan ask 你好，请介绍一下自己
//   echo "能为我作一首诗吗？" | huanhuan ask -
//   huanhuan ask --no-stream 你最喜欢什么？

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/huanhuan-chat/internal/session"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		noStream bool
		save     bool
	)

	cmd := &cobra.Command{
		Use:   "ask PROMPT",
		Short: "Send one prompt and print the reply",
		Long: `Send one prompt and print the reply. Words are joined with spaces;
a single "-" reads the prompt from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read prompt: %w", err)
				}
				prompt = string(data)
			}

			sess, err := a.newSession(a.newClient())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var ex session.Exchange
			if noStream {
				ex, err = sess.Ask(cmd.Context(), prompt)
				if errors.Is(err, session.ErrEmptyPrompt) {
					return err
				}
				fmt.Fprintln(out, displayReply(ex.Reply))
			} else {
				ex, err = sess.Send(cmd.Context(), prompt, func(fragment string) {
					fmt.Fprint(out, fragment)
				})
				if errors.Is(err, session.ErrEmptyPrompt) {
					return err
				}
				fmt.Fprintln(out)
			}

			if save {
				path, err := sess.Save()
				if err != nil {
					return fmt.Errorf("保存失败: %w", err)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), DimStyle.Render("对话历史已保存: "+path))
			}

			if ex.Failed() {
				return fmt.Errorf("generation failed: %w", ex.Err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole reply before printing")
	cmd.Flags().BoolVar(&save, "save", false, "save the exchange as a transcript")
	return cmd
}
