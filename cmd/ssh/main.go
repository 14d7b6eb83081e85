package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"slab-scout/internal/app"
	"slab-scout/internal/config"
	"slab-scout/internal/job"
	"slab-scout/internal/tui"
	"slab-scout/pkg/logging"
	"slab-scout/pkg/tracing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	wishlogging "github.com/charmbracelet/wish/logging"
	"github.com/joho/godotenv"
	gossh "golang.org/x/crypto/ssh"
)

type ctxKey string

const sshUserKey ctxKey = "ssh_user"

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	initTracerFunc         = tracing.InitTracer
	buildAppFunc           = app.Build
	loadAuthorizedKeysFunc = loadAuthorizedKeys
	newCacheJanitorFunc    = job.NewCacheJanitor
	startJanitorFunc       = func(j *job.CacheJanitor, ctx context.Context) { go j.Start(ctx) }
	newWishServerFunc      = wish.NewServer
	setupSignalNotify      = ossignal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	exitFunc               = os.Exit
)

func main() {
	_ = loadEnvFunc()
	cfg := loadConfigFunc()
	slog.SetDefault(logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		slog.Error("failed to initialize tracer", "error", err)
		exitFunc(1)
		return
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Warn("error shutting down tracer provider", "error", err)
		}
	}()

	keys, err := loadAuthorizedKeysFunc(cfg.SSHAuthorizedKeysPath)
	if err != nil {
		slog.Error("failed to load authorized keys", "error", err)
		exitFunc(1)
		return
	}
	if len(keys) == 0 {
		slog.Warn("no authorized keys configured, all SSH logins will be denied",
			"path", cfg.SSHAuthorizedKeysPath)
	}

	// The console exposes no metrics endpoint.
	components, err := buildAppFunc(ctx, cfg, tracer, nil)
	if err != nil {
		slog.Error("failed to build lookup stack", "error", err)
		exitFunc(1)
		return
	}
	defer components.Close()

	janitor := newCacheJanitorFunc(tracer, components.Store, nil, cfg.CacheCleanupMins)
	startJanitorFunc(janitor, ctx)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.SSHPort)

	srv, err := newWishServerFunc(
		wish.WithAddress(addr),
		wish.WithHostKeyPath(cfg.SSHHostKeyPath),
		wish.WithPublicKeyAuth(func(ctx ssh.Context, key ssh.PublicKey) bool {
			fingerprint := gossh.FingerprintSHA256(key)
			name, ok := keys.lookup(key)
			if !ok {
				slog.Warn("SSH auth denied", "user", ctx.User(), "fingerprint", fingerprint)
				return false
			}
			ctx.SetValue(sshUserKey, name)
			slog.Info("SSH auth accepted", "user", name, "fingerprint", fingerprint)
			return true
		}),
		wish.WithMiddleware(
			bubbletea.Middleware(func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
				username, _ := s.Context().Value(sshUserKey).(string)

				model := tui.NewModel(components.Lookup, username)
				pty, _, _ := s.Pty()
				model.SetSize(pty.Window.Width, pty.Window.Height)

				return model, []tea.ProgramOption{tea.WithAltScreen()}
			}),
			wishlogging.Middleware(),
		),
	)
	if err != nil {
		slog.Error("failed to create SSH server", "error", err)
		exitFunc(1)
		return
	}

	if srv != nil {
		go func() {
			slog.Info("SSH console listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != ssh.ErrServerClosed {
				slog.Error("SSH server stopped", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	slog.Info("shutting down SSH console")

	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("SSH server shutdown error", "error", err)
		}
	}

	slog.Info("SSH console exited")
}
