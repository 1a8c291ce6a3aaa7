// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeranaias/huanhuan-chat/internal/export"
	"github.com/jeranaias/huanhuan-chat/internal/model"
	"github.com/jeranaias/huanhuan-chat/internal/session"
	"github.com/jeranaias/huanhuan-chat/internal/storage"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List and show saved transcripts",
	}
	cmd.AddCommand(newHistoryListCmd(a), newHistoryShowCmd(a), newHistoryExportCmd(a))
	return cmd
}

func newHistoryListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved transcripts, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := a.cfg.NewStore().List()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), storage.FormatList(files))
			return nil
		},
	}
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [FILE]",
		Short: "Print a transcript (the most recent one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.cfg.NewStore()
			entries, path, err := loadTranscript(store, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, TitleStyle.Render(filepath.Base(path)))
			for _, e := range entries {
				fmt.Fprintln(out, DimStyle.Render(e.Timestamp))
				fmt.Fprintln(out, UserStyle.Render(model.RoleUser.DisplayName()+": ")+e.User)
				fmt.Fprintln(out, AssistantStyle.Render(model.RoleAssistant.DisplayName()+": ")+displayReply(e.Assistant))
			}
			fmt.Fprintln(out, DimStyle.Render(fmt.Sprintf("对话轮数: %d", len(entries))))
			return nil
		},
	}
}

func newHistoryExportCmd(a *app) *cobra.Command {
	var (
		format string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "export [FILE]",
		Short: "Export a transcript as Markdown or HTML",
		Long: `Export a transcript (the most recent one by default) as a Markdown or
HTML document named after the transcript.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := export.DefaultOptions()
			opts.OutputDir = outDir
			exp, err := export.New(format, opts)
			if err != nil {
				return err
			}

			entries, path, err := loadTranscript(a.cfg.NewStore(), args)
			if err != nil {
				return err
			}

			t := &export.Transcript{Name: filepath.Base(path), Title: a.cfg.Persona.Title, Entries: entries}
			out, err := export.ExportToFile(t, exp, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" exported "+out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "md", "document format: md or html")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	return cmd
}

// loadTranscript loads the named transcript, or the most recent one when
// args is empty. A missing or empty transcript is ErrNoHistory.
func loadTranscript(store *storage.Store, args []string) ([]model.Entry, string, error) {
	var (
		entries []model.Entry
		path    string
		err     error
	)
	if len(args) == 1 {
		path = args[0]
		entries, err = store.LoadFile(args[0])
	} else {
		entries, path, err = store.Load()
		if err == nil && len(entries) == 0 {
			err = session.ErrNoHistory
		}
	}
	if errors.Is(err, storage.ErrTranscriptNotFound) {
		return nil, "", session.ErrNoHistory
	}
	if err != nil {
		return nil, "", err
	}
	return entries, path, nil
}
