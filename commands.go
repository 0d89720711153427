package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"parley/chat"
	"parley/config"
	"parley/model"
	"parley/provider"
	"parley/storage"
	"parley/ui"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"send", "Send a message and stream the reply", runSend},
		{"regenerate", "Replace an assistant reply with a new one", runRegenerate},
		{"chats", "List chats, newest activity first", runChats},
		{"show", "Print a chat transcript", runShow},
		{"search", "Full-text search over messages", runSearch},
		{"fork", "Branch a chat at a message", runFork},
		{"rename", "Set a chat's title", runRename},
		{"delete", "Delete a chat", runDelete},
		{"export", "Write a chat to a JSON file", runExport},
		{"models", "List models of every enabled connection", runModels},
		{"ping", "Check connection credentials", runPing},
		{"set", "Change a connection field (apikey, enabled, base_url, default_model, type)", runSet},
	}
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func newFlagSet(a *app, name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errw)
	fs.Usage = func() {
		fmt.Fprintf(a.errw, "Usage: parley %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

// completionFlags registers the sampling flags shared by send and
// regenerate.
type completionFlags struct {
	temperature float64
	maxTokens   int64
	topP        float64
}

func (c *completionFlags) register(fs *flag.FlagSet) {
	fs.Float64Var(&c.temperature, "temperature", -1, "sampling temperature (provider default when unset)")
	fs.Int64Var(&c.maxTokens, "max-tokens", 0, "maximum tokens to generate")
	fs.Float64Var(&c.topP, "top-p", -1, "nucleus sampling probability")
}

func (c *completionFlags) options() *model.CompletionOptions {
	var opts model.CompletionOptions
	set := false
	if c.temperature >= 0 {
		opts.Temperature = &c.temperature
		set = true
	}
	if c.maxTokens > 0 {
		opts.MaxTokens = &c.maxTokens
		set = true
	}
	if c.topP >= 0 {
		opts.TopP = &c.topP
		set = true
	}
	if !set {
		return nil
	}
	return &opts
}

func runSend(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "send", "[flags] message...  (reads stdin when no message is given)")
	chatID := fs.String("chat", "", "continue this chat (ID or unique prefix)")
	providerID := fs.String("provider", "", "connection ID (default from config)")
	modelID := fs.String("model", "", "model ID (default from config)")
	system := fs.String("system", "", "system prompt for a new chat")
	copyReply := fs.Bool("copy", false, "copy the reply to the clipboard")
	render := fs.Bool("render", false, "print the finished reply as rendered markdown")
	var images stringList
	fs.Var(&images, "image", "attach an image file (repeatable)")
	var cf completionFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	content, err := messageText(fs.Args())
	if err != nil {
		return err
	}

	if *chatID != "" {
		if *chatID, err = resolveChatID(ctx, a, *chatID); err != nil {
			return err
		}
	}

	attachments, err := loadImages(images)
	if err != nil {
		return err
	}

	unsubscribe := a.svc.SubscribeTitleUpdated(func(ev chat.TitleUpdated) {
		fmt.Fprintln(a.errw, ui.DimStyle.Render("title: "+ev.Title))
	})
	defer unsubscribe()

	stream, err := a.svc.Send(ctx, chat.SendRequest{
		ChatID:       *chatID,
		Content:      content,
		Model:        *modelID,
		ProviderID:   *providerID,
		SystemPrompt: *system,
		Attachments:  attachments,
		Options:      cf.options(),
	})
	if err != nil {
		return err
	}

	return a.printStream(stream, *render, *copyReply)
}

func runRegenerate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "regenerate", "[flags] message-id")
	copyReply := fs.Bool("copy", false, "copy the reply to the clipboard")
	render := fs.Bool("render", false, "print the finished reply as rendered markdown")
	var cf completionFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return flag.ErrHelp
	}

	stream, err := a.svc.Regenerate(ctx, fs.Arg(0), cf.options())
	if err != nil {
		return err
	}
	return a.printStream(stream, *render, *copyReply)
}

// printStream writes deltas as they arrive, then a status footer.
func (a *app) printStream(stream *chat.Stream, render, copyReply bool) error {
	for u := range stream.Updates() {
		if !render {
			fmt.Fprint(a.out, u.Delta)
		}
	}
	msg, err := stream.Wait()

	if render && msg != nil {
		fmt.Fprintln(a.out, ui.RenderMarkdown(msg.Content, a.width))
	} else {
		fmt.Fprintln(a.out)
	}

	if err != nil {
		if msg != nil {
			fmt.Fprintln(a.errw, ui.DimStyle.Render("partial reply saved as "+msg.ID))
		}
		return err
	}

	footer := fmt.Sprintf("chat %s  message %s", stream.ChatID(), msg.ID)
	if msg.TotalTokens > 0 {
		footer += fmt.Sprintf("  %d tokens", msg.TotalTokens)
	}
	if label := ui.StatusLabel(msg.Status); label != "" {
		footer = label + " " + footer
	}
	fmt.Fprintln(a.errw, ui.DimStyle.Render(footer))

	if copyReply {
		if err := ui.CopyToClipboard(msg.Content); err != nil {
			return err
		}
	}
	return nil
}

func runChats(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "chats", "[flags]")
	filter := fs.String("filter", "", "fuzzy filter on titles")
	limit := fs.Int("limit", 0, "show at most this many chats")
	if err := fs.Parse(args); err != nil {
		return err
	}

	chats, err := a.store.ListChats(ctx)
	if err != nil {
		return err
	}
	chats = ui.FilterChats(chats, *filter)
	if *limit > 0 && len(chats) > *limit {
		chats = chats[:*limit]
	}

	fmt.Fprint(a.out, ui.FormatChatList(chats, time.Now()))
	return nil
}

func runShow(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "show", "[flags] chat-id")
	copyLast := fs.Bool("copy", false, "copy the last assistant reply to the clipboard")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return flag.ErrHelp
	}

	id, err := resolveChatID(ctx, a, fs.Arg(0))
	if err != nil {
		return err
	}
	c, err := a.store.FindChat(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := a.store.ListMessages(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprint(a.out, ui.FormatTranscript(c, msgs, a.width))

	if *copyLast {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == model.RoleAssistant {
				return ui.CopyToClipboard(msgs[i].Content)
			}
		}
		return errors.New("chat has no assistant reply to copy")
	}
	return nil
}

func runSearch(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "search", "[flags] query...")
	chatID := fs.String("chat", "", "restrict to one chat")
	limit := fs.Int("limit", 20, "maximum results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		fs.Usage()
		return flag.ErrHelp
	}

	if *chatID != "" {
		var err error
		if *chatID, err = resolveChatID(ctx, a, *chatID); err != nil {
			return err
		}
	}

	results, err := a.svc.Search(ctx, query, *chatID, *limit)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, ui.FormatSearchResults(results))
	return nil
}

func runFork(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "fork", "chat-id message-id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return flag.ErrHelp
	}

	id, err := resolveChatID(ctx, a, fs.Arg(0))
	if err != nil {
		return err
	}
	forked, err := a.svc.Fork(ctx, id, fs.Arg(1))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", forked.ID, ui.TitleStyle.Render(forked.Title))
	return nil
}

func runRename(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "rename", "chat-id title...")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return flag.ErrHelp
	}

	id, err := resolveChatID(ctx, a, fs.Arg(0))
	if err != nil {
		return err
	}
	return a.store.SetChatTitle(ctx, id, strings.Join(fs.Args()[1:], " "))
}

func runDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "delete", "chat-id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return flag.ErrHelp
	}

	id, err := resolveChatID(ctx, a, fs.Arg(0))
	if err != nil {
		return err
	}
	if err := a.svc.DeleteChat(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "deleted", id)
	return nil
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "export", "[flags] chat-id")
	dir := fs.String("dir", ".", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return flag.ErrHelp
	}

	id, err := resolveChatID(ctx, a, fs.Arg(0))
	if err != nil {
		return err
	}
	c, err := a.store.FindChat(ctx, id)
	if err != nil {
		return err
	}

	path := storage.ExportPath(config.ExpandPath(*dir), c.Title)
	if err := a.store.ExportChat(ctx, id, path); err != nil {
		return err
	}
	fmt.Fprintln(a.out, path)
	return nil
}

func runModels(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "models", "[connection-id...]")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgs := selectConfigs(provider.EnabledConfigs(a.conns), fs.Args())
	if len(cfgs) == 0 {
		return errors.New("no enabled connections; enable one with `parley set <id> enabled true`")
	}

	fmt.Fprint(a.out, ui.FormatModelList(a.manager.ListAllModels(ctx, cfgs)))
	return nil
}

func runPing(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "ping", "[connection-id...]")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfgs []provider.Config
	if fs.NArg() == 0 {
		cfgs = provider.EnabledConfigs(a.conns)
	} else {
		for _, id := range fs.Args() {
			conn, ok := a.conns.Get(id)
			if !ok {
				return fmt.Errorf("%w: %s", provider.ErrUnknownConnection, id)
			}
			cfgs = append(cfgs, provider.ConfigFromConnection(conn))
		}
	}

	failed := 0
	for _, cfg := range cfgs {
		r := provider.PingConnection(ctx, cfg)
		if !r.Valid {
			failed++
		}
		fmt.Fprintln(a.out, ui.FormatHealth(r))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d connections failed", failed, len(cfgs))
	}
	return nil
}

func runSet(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "set", "connection-id field value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return flag.ErrHelp
	}
	return config.UpdateProviderField(a.dataDir, a.conns, a.cfg.CredentialStore, fs.Arg(0), fs.Arg(1), fs.Arg(2))
}

// selectConfigs keeps the configs named in ids, or all of them when ids is
// empty.
func selectConfigs(cfgs []provider.Config, ids []string) []provider.Config {
	if len(ids) == 0 {
		return cfgs
	}
	var selected []provider.Config
	for _, cfg := range cfgs {
		for _, id := range ids {
			if cfg.ID == id {
				selected = append(selected, cfg)
			}
		}
	}
	return selected
}

// resolveChatID accepts a full chat ID or a prefix matching exactly one
// chat.
func resolveChatID(ctx context.Context, a *app, ref string) (string, error) {
	if _, err := a.store.FindChat(ctx, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	chats, err := a.store.ListChats(ctx)
	if err != nil {
		return "", err
	}
	return matchChatPrefix(chats, ref)
}

func matchChatPrefix(chats []storage.ChatSummary, prefix string) (string, error) {
	var matches []string
	for _, c := range chats {
		if strings.HasPrefix(c.ID, prefix) {
			matches = append(matches, c.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("chat %s: %w", prefix, storage.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("chat prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

// messageText joins args, or reads stdin when there are none.
func messageText(args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read message from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// loadImages reads image files into attachments.
func loadImages(paths []string) ([]storage.Attachment, error) {
	var attachments []storage.Attachment
	for _, path := range paths {
		data, err := os.ReadFile(config.ExpandPath(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		mime := http.DetectContentType(data)
		if !strings.HasPrefix(mime, "image/") {
			return nil, fmt.Errorf("%s is not an image (%s)", path, mime)
		}
		attachments = append(attachments, storage.Attachment{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return attachments, nil
}
