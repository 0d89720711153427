package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/term"

	"parley/chat"
	"parley/config"
	"parley/provider"
	"parley/storage"
	"parley/ui"
)

const (
	Version = "v0.1.0"
	License = "Apache-2.0"

	defaultWidth = 100
)

// app holds the wired stack shared by every command.
type app struct {
	cfg      *config.Config
	dataDir  string
	conns    *config.Connections
	settings *config.SettingsStore
	store    *storage.Store
	manager  *provider.Manager
	svc      *chat.Service

	out   io.Writer
	errw  io.Writer
	width int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, ui.ErrorStyle.Render("Error:"), err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out, errw io.Writer) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(out)
		return nil
	}
	if args[0] == "version" {
		fmt.Fprintf(out, "parley %s (%s)\n", Version, License)
		return nil
	}

	cmd, ok := lookupCommand(args[0])
	if !ok {
		printUsage(errw)
		return fmt.Errorf("unknown command %q", args[0])
	}

	a, err := newApp(ctx, out, errw)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	return cmd.run(ctx, a, args[1:])
}

func newApp(ctx context.Context, out, errw io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	dataDir := cfg.DataDir()
	config.InitDebugLog(dataDir)

	store, err := storage.Open(config.DatabasePath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conns := cfg.Connections()
	settings := config.NewSettingsStore(cfg.Settings())
	manager := provider.NewManager(conns)
	provider.InitializeProviders(manager, conns)

	if err := config.Watch(ctx, dataDir, conns, cfg.CredentialStore, settings); err != nil {
		log := config.Logger("main")
		log.Warn().Err(err).Msg("config hot reload disabled")
	}

	return &app{
		cfg:      cfg,
		dataDir:  dataDir,
		conns:    conns,
		settings: settings,
		store:    store,
		manager:  manager,
		svc:      chat.NewService(store, manager, settings),
		out:      out,
		errw:     errw,
		width:    terminalWidth(),
	}, nil
}

// Close lets background work such as title generation finish, unless ctx
// is cancelled first, then releases the database.
func (a *app) Close(ctx context.Context) {
	idle := make(chan struct{})
	go func() {
		a.svc.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
	}

	a.svc.Close()
	a.manager.Close()
	if err := a.store.Close(); err != nil {
		log := config.Logger("main")
		log.Warn().Err(err).Msg("failed to close database")
	}
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return defaultWidth
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n\n", ui.TitleStyle.Render("parley"), ui.DimStyle.Render(Version))
	fmt.Fprintln(w, "Usage: parley <command> [flags] [args]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %s %s\n", ui.PadRight(c.name, 12), c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, ui.FormatFooter("parley <command> -h", "Command flags"))
}
