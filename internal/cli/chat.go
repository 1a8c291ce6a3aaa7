// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for huanhuan CLI.
//
// Command: chat
// Short:   Start an interactive chat session
//
// Interactive Commands (during chat):
//   /help, /h              Show available commands
//   /clear, /c             Clear the conversation
//   /save                  Save the conversation to a transcript
//   /load [FILE]           Load the latest or the named transcript
//   /params                Show generation parameters
//   /set NAME VALUE        Change a generation parameter
//   /model [NAME]          Show or switch model
//   /models                List available models
//   /history               Show the conversation so far
//   /export [md|html]      Export the conversation as a document
//   /examples [N]          List example questions, or ask example N
//   /quit, /q              Exit chat
//   Ctrl+C                 Cancel the current reply
//   Ctrl+D                 Exit chat
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/huanhuan-chat/internal/config"
	"github.com/jeranaias/huanhuan-chat/internal/export"
	"github.com/jeranaias/huanhuan-chat/internal/model"
	"github.com/jeranaias/huanhuan-chat/internal/session"
	"github.com/jeranaias/huanhuan-chat/internal/storage"
)

// inputHistoryFile holds typed lines between runs, in the config directory.
const inputHistoryFile = "input_history"

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat with 嬛嬛. Replies stream as they are generated.
Type /help inside the chat for the available commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd)
		},
	}
}

// =============================================================================
// REPL
// =============================================================================

// modelLister lists the models of the inference server.
type modelLister interface {
	ModelNames(ctx context.Context) []string
}

// repl executes chat input against a session. Line editing lives in
// runChat so the command handling can run without a terminal.
type repl struct {
	sess    *session.Session
	models  modelLister
	persona config.PersonaConfig
	out     io.Writer

	// exportDir receives /export documents.
	exportDir string
}

func (a *app) runChat(cmd *cobra.Command) error {
	client := a.newClient()
	sess, err := a.newSession(client)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	r := &repl{sess: sess, models: client, persona: a.cfg.Persona, out: out, exportDir: "."}

	if client.CheckConnection(ctx) {
		sess.SelectModel(client.ModelNames(ctx))
	} else {
		fmt.Fprintln(out, ErrorStyle.Render("❌ Ollama服务未连接"))
		fmt.Fprintln(out, WarningStyle.Render("请确保Ollama服务正在运行: ollama serve"))
	}
	r.printWelcome()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	historyPath := loadInputHistory(line)

	for {
		input, err := line.Prompt("你: ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		// Ctrl+C during a reply cancels only that reply.
		turnCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		quit := r.dispatch(turnCtx, input)
		stop()
		if quit {
			break
		}
	}

	saveInputHistory(line, historyPath, a.logger)
	fmt.Fprintln(out, DimStyle.Render(fmt.Sprintf("再会。对话轮数: %d", sess.Rounds())))
	return nil
}

func loadInputHistory(line *liner.State) string {
	dir, err := config.ConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, inputHistoryFile)
	if f, err := os.Open(path); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return path
}

func saveInputHistory(line *liner.State, path string, logger *zap.Logger) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		logger.Debug("input history not saved", zap.Error(err))
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		logger.Debug("input history not saved", zap.Error(err))
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

func (r *repl) printWelcome() {
	fmt.Fprintln(r.out, TitleStyle.Render("👸 "+r.persona.Title))
	if r.persona.Intro != "" {
		fmt.Fprintln(r.out, r.persona.Intro)
	}
	fmt.Fprintln(r.out, DimStyle.Render("模型: "+r.sess.Model()+"  ·  输入 /help 查看命令，/quit 退出"))
	fmt.Fprintln(r.out, RenderSeparator(60))
}

// dispatch handles one line of input and reports whether the chat should
// end.
func (r *repl) dispatch(ctx context.Context, input string) bool {
	if !strings.HasPrefix(input, "/") {
		r.send(ctx, input)
		return false
	}

	fields := strings.Fields(input)
	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "/quit", "/q", "/exit":
		return true
	case "/help", "/h", "/?":
		r.printHelp()
	case "/clear", "/c":
		r.sess.Clear()
		fmt.Fprintln(r.out, SuccessStyle.Render("对话已清空"))
	case "/save":
		r.save()
	case "/load":
		r.load(args)
	case "/params":
		r.printParams()
	case "/set":
		r.setParam(args)
	case "/model":
		r.model(ctx, args)
	case "/models":
		r.listModels(ctx)
	case "/history":
		r.printHistory()
	case "/examples":
		r.examples(ctx, args)
	case "/export":
		r.export(args)
	default:
		fmt.Fprintln(r.out, WarningStyle.Render("Unknown command: "+name+" (type /help)"))
	}
	return false
}

// send streams one reply. A failed exchange has its error text streamed
// like any other reply.
func (r *repl) send(ctx context.Context, prompt string) {
	fmt.Fprint(r.out, AssistantStyle.Render(model.RoleAssistant.DisplayName()+": "))
	r.sess.Send(ctx, prompt, func(fragment string) {
		fmt.Fprint(r.out, fragment)
	})
	fmt.Fprintln(r.out)
}

func (r *repl) printHelp() {
	help := [][2]string{
		{"/help", "显示命令"},
		{"/clear", "清空对话"},
		{"/save", "保存对话"},
		{"/load [FILE]", "加载最近或指定的对话"},
		{"/params", "显示生成参数"},
		{"/set NAME VALUE", "修改参数 (temperature, top_p, top_k, max_tokens)"},
		{"/model [NAME]", "显示或切换模型"},
		{"/models", "列出可用模型"},
		{"/history", "显示对话历史"},
		{"/examples [N]", "示例问题"},
		{"/export [md|html]", "导出对话文档"},
		{"/quit", "退出"},
	}
	for _, h := range help {
		fmt.Fprintf(r.out, "  %-18s %s\n", h[0], DimStyle.Render(h[1]))
	}
}

func (r *repl) save() {
	path, err := r.sess.Save()
	if err != nil {
		fmt.Fprintln(r.out, ErrorStyle.Render("保存失败: "+err.Error()))
		return
	}
	fmt.Fprintln(r.out, SuccessStyle.Render("对话历史已保存: "+path))
}

func (r *repl) load(args []string) {
	var (
		file string
		err  error
	)
	if len(args) > 0 {
		file = args[0]
		err = r.sess.LoadFile(file)
	} else {
		file, err = r.sess.Load()
	}

	switch {
	case errors.Is(err, session.ErrNoHistory), errors.Is(err, storage.ErrTranscriptNotFound):
		fmt.Fprintln(r.out, WarningStyle.Render(session.ErrNoHistory.Error()))
	case err != nil:
		fmt.Fprintln(r.out, ErrorStyle.Render("加载失败: "+err.Error()))
	default:
		fmt.Fprintln(r.out, SuccessStyle.Render("对话历史已加载: "+filepath.Base(file)))
		r.printHistory()
	}
}

func (r *repl) printParams() {
	p := r.sess.Params()
	fmt.Fprintf(r.out, "  %s %.1f\n", RenderLabel("temperature"), p.Temperature)
	fmt.Fprintf(r.out, "  %s %.1f\n", RenderLabel("top_p"), p.TopP)
	fmt.Fprintf(r.out, "  %s %d\n", RenderLabel("top_k"), p.TopK)
	fmt.Fprintf(r.out, "  %s %d\n", RenderLabel("max_tokens"), p.MaxTokens)
}

func (r *repl) setParam(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(r.out, WarningStyle.Render("Usage: /set NAME VALUE"))
		return
	}
	if err := r.sess.SetParam(args[0], args[1]); err != nil {
		fmt.Fprintln(r.out, ErrorStyle.Render(err.Error()))
		return
	}
	r.printParams()
}

func (r *repl) model(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.out, "模型: "+r.sess.Model())
		return
	}
	name := args[0]
	if names := r.models.ModelNames(ctx); len(names) > 0 && !slices.Contains(names, name) {
		fmt.Fprintln(r.out, ErrorStyle.Render("model not available: "+name))
		return
	}
	r.sess.SetModel(name)
	fmt.Fprintln(r.out, SuccessStyle.Render("模型: "+name))
}

func (r *repl) listModels(ctx context.Context) {
	names := r.models.ModelNames(ctx)
	if len(names) == 0 {
		fmt.Fprintln(r.out, WarningStyle.Render("没有找到可用模型"))
		return
	}
	current := r.sess.Model()
	for _, name := range names {
		marker := "  "
		if name == current {
			marker = "* "
		}
		fmt.Fprintln(r.out, marker+name)
	}
}

func (r *repl) printHistory() {
	msgs := r.sess.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("(暂无对话)"))
		return
	}
	writeMessages(r.out, msgs)
	fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("对话轮数: %d", r.sess.Rounds())))
}

func (r *repl) examples(ctx context.Context, args []string) {
	if len(args) == 0 {
		for i, q := range r.persona.Examples {
			fmt.Fprintf(r.out, "  %d. %s\n", i+1, q)
		}
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(r.persona.Examples) {
		fmt.Fprintln(r.out, WarningStyle.Render(fmt.Sprintf("Usage: /examples [1-%d]", len(r.persona.Examples))))
		return
	}
	q := r.persona.Examples[n-1]
	fmt.Fprintln(r.out, UserStyle.Render(model.RoleUser.DisplayName()+": ")+q)
	r.send(ctx, q)
}

func (r *repl) export(args []string) {
	format := "md"
	if len(args) > 0 {
		format = args[0]
	}
	opts := export.DefaultOptions()
	opts.OutputDir = r.exportDir
	exp, err := export.New(format, opts)
	if err != nil {
		fmt.Fprintln(r.out, WarningStyle.Render(err.Error()))
		return
	}

	t := &export.Transcript{Title: r.persona.Title, Entries: r.sess.Entries()}
	path, err := export.ExportToFile(t, exp, opts)
	if errors.Is(err, export.ErrEmptyTranscript) {
		fmt.Fprintln(r.out, DimStyle.Render("(暂无对话)"))
		return
	}
	if err != nil {
		fmt.Fprintln(r.out, ErrorStyle.Render("导出失败: "+err.Error()))
		return
	}
	fmt.Fprintln(r.out, SuccessStyle.Render("对话已导出: "+path))
}

// writeMessages prints a conversation, one speaker label per message.
func writeMessages(w io.Writer, msgs []model.Message) {
	for _, m := range msgs {
		style := UserStyle
		if m.Role == model.RoleAssistant {
			style = AssistantStyle
		}
		fmt.Fprintln(w, style.Render(m.Role.DisplayName()+": ")+m.Content)
	}
}
