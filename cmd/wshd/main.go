// Command wshd is the wsh daemon: standalone mode spawns a shell, attaches
// the local terminal, and serves the session over HTTP; serve mode runs a
// named-session registry with no local terminal attached.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacoblasky/wsh/internal/api"
	"github.com/jacoblasky/wsh/internal/config"
	"github.com/jacoblasky/wsh/internal/session"
	"github.com/jacoblasky/wsh/internal/termio"
	"github.com/jacoblasky/wsh/internal/wshlog"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var addr, name, shell, configPath string
	var scrollback int

	root := &cobra.Command{
		Use:   "wshd",
		Short: "headless terminal multiplexer daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStandalone(addr, name, shell, configPath, scrollback)
		},
	}

	root.Flags().StringVar(&addr, "addr", ":7670", "HTTP listen address")
	root.Flags().StringVar(&name, "name", "default", "session name")
	root.Flags().StringVar(&shell, "shell", "", "shell to spawn (default $SHELL or /bin/sh)")
	root.Flags().IntVar(&scrollback, "scrollback", 0, "scrollback line limit (default: the config value, 10000 unless set)")
	root.Flags().StringVar(&configPath, "config", "", "path to wsh.yaml (default: none)")

	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	var addr, configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a named-session registry with no local terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(addr, configPath)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":7670", "HTTP listen address")
	cmd.Flags().StringVar(&configPath, "config", "", "path to wsh.yaml (default: none)")
	return cmd
}

func loadConfig(flagPath string) (config.Config, error) {
	return config.Load(config.ConfigPath(flagPath))
}

func runStandalone(addr, name, shell, configPath string, scrollback int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := wshlog.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if shell == "" {
		shell = cfg.Shell
	}
	if scrollback <= 0 {
		scrollback = cfg.ScrollbackLimit
	}

	stdinFd := int(os.Stdin.Fd())
	cols, rows := termio.Size(stdinFd)

	guard, err := termio.Enable(stdinFd)
	if err != nil {
		return fmt.Errorf("enable raw mode: %w", err)
	}
	// The single most user-visible bug class here is leaving the TTY in raw
	// mode: every exit path below must run restoreAndExit instead of a bare
	// os.Exit.
	restoreAndExit := func(code int) {
		_ = guard.Restore()
		os.Exit(code)
	}

	sess, err := session.New(session.Config{
		Name:            name,
		Rows:            rows,
		Cols:            cols,
		Command:         shell,
		ScrollbackLimit: scrollback,
		LocalOutput:     os.Stdout,
	})
	if err != nil {
		_ = guard.Restore()
		return fmt.Errorf("spawn session: %w", err)
	}
	sess.SetQuiescenceDefault(time.Duration(cfg.QuiescenceMS) * time.Millisecond)

	watcher, err := config.WatchFile(config.ConfigPath(configPath), func(newCfg config.Config) {
		sess.SetScrollbackLimit(newCfg.ScrollbackLimit)
		sess.SetQuiescenceDefault(time.Duration(newCfg.QuiescenceMS) * time.Millisecond)
		wshlog.Info("config reloaded", "scrollback", newCfg.ScrollbackLimit, "quiescence_ms", newCfg.QuiescenceMS)
	})
	if err != nil {
		_ = guard.Restore()
		_ = sess.Close()
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()

	srv := &http.Server{Addr: addr, Handler: api.NewSingleSessionServer(sess).Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stdinDone := make(chan struct{})
	go runLocalStdin(ctx, sess, stdinDone)

	serveErrCh := make(chan error, 1)
	go func() {
		wshlog.Info("listening", "addr", addr)
		serveErrCh <- srv.ListenAndServe()
	}()

	exitCh := make(chan int, 1)
	go func() {
		code, err := sess.Wait()
		if err != nil {
			wshlog.Warn("shell wait error", "error", err)
		}
		exitCh <- code
	}()

	// teardown signals the shutdown coordinator (which every /ws/raw and
	// /sessions/{name}/events connection registered with on accept), waits
	// up to timeout for those connections to drain, then shuts down the
	// HTTP server and closes the session.
	teardown := func(timeout time.Duration) {
		sess.Shutdown.Shutdown()
		waitCtx, cancel := context.WithTimeout(context.Background(), timeout)
		_ = sess.Shutdown.WaitForAllClosed(waitCtx)
		cancel()

		shutdownCtx, cancel2 := context.WithTimeout(context.Background(), timeout)
		_ = srv.Shutdown(shutdownCtx)
		cancel2()

		_ = sess.Close()
	}

	select {
	case <-ctx.Done():
		wshlog.Info("shutting down")
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			wshlog.Error("http server error", "error", err)
		}
	case code := <-exitCh:
		teardown(3 * time.Second)
		restoreAndExit(code)
		return nil
	}

	teardown(3 * time.Second)
	<-stdinDone
	restoreAndExit(0)
	return nil
}

func runLocalStdin(ctx context.Context, sess *session.Session, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if ferr := sess.FeedLocalKeystrokes(append([]byte(nil), buf[:n]...)); ferr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func runServer(addr, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := wshlog.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	registry := session.NewRegistry()

	var scrollbackDefault atomic.Int64
	var quiescenceDefaultMS atomic.Int64
	scrollbackDefault.Store(int64(cfg.ScrollbackLimit))
	quiescenceDefaultMS.Store(int64(cfg.QuiescenceMS))

	newSessionDefaults := func() session.Config {
		return session.Config{
			Rows:            24,
			Cols:            80,
			ScrollbackLimit: int(scrollbackDefault.Load()),
		}
	}

	watcher, err := config.WatchFile(config.ConfigPath(configPath), func(newCfg config.Config) {
		scrollbackDefault.Store(int64(newCfg.ScrollbackLimit))
		quiescenceDefaultMS.Store(int64(newCfg.QuiescenceMS))
		registry.ApplyConfig(newCfg.ScrollbackLimit, time.Duration(newCfg.QuiescenceMS)*time.Millisecond)
		wshlog.Info("config reloaded", "scrollback", newCfg.ScrollbackLimit, "quiescence_ms", newCfg.QuiescenceMS)
	})
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()

	quiescenceDefault := func() time.Duration {
		return time.Duration(quiescenceDefaultMS.Load()) * time.Millisecond
	}
	srv := &http.Server{Addr: addr, Handler: api.NewRegistryServer(registry, newSessionDefaults, quiescenceDefault).Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	serveErrCh := make(chan error, 1)
	go func() {
		wshlog.Info("listening", "addr", addr, "mode", "server")
		serveErrCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		wshlog.Info("shutting down")
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	registry.ShutdownAll(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
	registry.CloseAll()
	return nil
}
