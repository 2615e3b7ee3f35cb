// Package main implements the jamibus daemon, which listens for Jami daemon
// signals on D-Bus and hands them to an interactive console, the file transfer
// manager and the log.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	rootpkg "tools.zach/dev/jamibus"
	"tools.zach/dev/jamibus/internal/atomicfile"
	"tools.zach/dev/jamibus/internal/bus"
	"tools.zach/dev/jamibus/internal/config"
	"tools.zach/dev/jamibus/internal/console"
	"tools.zach/dev/jamibus/internal/jami"
	"tools.zach/dev/jamibus/internal/logger"
	"tools.zach/dev/jamibus/internal/metrics"
	"tools.zach/dev/jamibus/internal/paths"
	"tools.zach/dev/jamibus/internal/transfers"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set, resolveVersion reads the VCS info that Go embeds
// automatically.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags it is returned as-is; otherwise the embedded VCS revision and dirty
// state produce a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove ownership
// of the PID file, so [removePID] only deletes the file if this instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID creates or opens the PID file at [DataPaths.PID], acquires an
// advisory file lock, and writes "PID:TOKEN" content. The returned handle
// must stay open for the lifetime of the daemon to hold the lock; pass it to
// [removePID] on shutdown.
func writePID(paths DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(paths.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	content := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if _, err := f.WriteString(content); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the lock, closes the handle, and removes the PID file
// only if the stored token matches.
func removePID(paths DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(paths.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(paths.PID())
	}
}

// checkStalePID reports whether another daemon instance holds the PID file
// lock. A file whose lock can be taken belongs to a dead instance and is
// removed.
func checkStalePID(paths DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(paths.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(paths.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
			return true, p
		}
		return true, 0
	}

	// Lock acquired -- previous instance is dead.
	_ = unlockFile(f)
	f.Close()
	os.Remove(paths.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Console Mode
// ///////////////////////////////////////////////

// Console modes accepted by the -console flag.
const (
	consoleAuto = "auto"
	consoleOn   = "on"
	consoleOff  = "off"
)

// wantConsole decides whether to attach the interactive console. "auto"
// follows the config and requires a terminal; "on" only requires a terminal.
func wantConsole(mode string, enabled, tty bool) (bool, error) {
	switch mode {
	case consoleAuto:
		return enabled && tty, nil
	case consoleOn:
		if !tty {
			return false, errors.New("console requested but stdin is not a terminal")
		}
		return true, nil
	case consoleOff:
		return false, nil
	default:
		return false, fmt.Errorf("unknown console mode %q (want auto, on, or off)", mode)
	}
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", "", "Data directory for config, history, and logs (default ~/"+paths.DataDirRel+")")
	consoleMode := flag.String("console", consoleAuto, "Interactive console: auto, on, or off")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(paths.BinaryName, resolveVersion())
		return
	}
	os.Exit(run(*dataDir, *consoleMode))
}

// run starts the daemon and blocks until it stops. It returns the process
// exit code.
func run(dataDir, consoleMode string) int {
	dp, err := paths.Resolve(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	if err := dp.Ensure(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	if alive, pid := checkStalePID(dp); alive {
		fmt.Fprintf(os.Stderr, "daemon already running (pid %d)\n", pid)
		return 1
	}

	if _, err := atomicfile.WriteIfMissing(dp.Config(), rootpkg.DefaultConfigTOML, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", err)
	}

	cfg, err := config.Load(dp.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		return 1
	}

	withConsole, err := wantConsole(consoleMode, cfg.Console.Enabled, console.IsTerminal())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(logger.ParseLevel(cfg.Log.Level))
	log, logCloser, err := logger.NewLogger(logger.Options{
		Path:      dp.Log(),
		Level:     level,
		MaxSizeMB: cfg.Log.MaxSizeMB,
		// The console owns the terminal while attached.
		Stderr: cfg.Log.Stderr && !withConsole,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("jamibus starting", "version", resolveVersion(), "data_dir", dp.Root, "console", withConsole)

	token := pidToken()
	pidFile, err := writePID(dp, token)
	if err != nil {
		log.Error("failed to write PID file", "error", err)
		return 1
	}
	defer removePID(dp, token, pidFile)

	// Background goroutines exit on cancel, so cancel runs before the wait.
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewManager(metrics.Config{Enabled: cfg.Metrics.Enabled})
	if cfg.Metrics.Enabled {
		wg.Go(func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen); err != nil {
				log.Error("metrics endpoint stopped", "error", err)
			}
		})
		log.Info("serving metrics", "listen", cfg.Metrics.Listen)
	}

	watcher := config.NewWatcher(dp.Root, config.WithWatcherLogger(log))
	watcher.OnChange(func(next *config.Config) {
		level.Set(logger.ParseLevel(next.Log.Level))
		log.Info("config reloaded", "log_level", next.Log.Level)
	})
	wg.Go(func() {
		if err := watcher.Watch(ctx); err != nil {
			log.Warn("config watcher stopped", "error", err)
		}
	})

	conn, err := dialWithRetry(ctx, cfg.BusOptions(), log)
	if err != nil {
		logger.Fail(log, "failed to connect to bus", "error", err)
		return 1
	}
	defer conn.Close()
	log.Info("connected to bus", "address", cfg.Bus.Address, "destination", cfg.Bus.Destination)

	client := jami.NewClient(conn, jami.WithClientLogger(log), jami.WithClientMetrics(m))
	events := jami.NewEventChannel(cfg.Events.Capacity,
		jami.WithChannelMetrics(m),
		jami.WithChannelLogger(log),
	)
	stop := jami.NewStopFlag()

	tm := transfers.NewManager(client, dp.Downloads(cfg.Transfers.DownloadDir),
		transfers.WithPolicy(transfers.Policy{
			Names:    cfg.Transfers.AutoAccept,
			MIME:     cfg.Transfers.AutoAcceptMIME,
			MaxBytes: cfg.MaxAutoAcceptBytes(),
		}),
		transfers.WithLogger(log),
		transfers.WithRecorder(m),
	)

	d := &dispatcher{transfers: tm, stop: stop, log: log}
	var con *console.Console
	if withConsole {
		con, err = console.New(console.NewSession(client, tm, dp.Log()), events, console.Options{
			HistoryFile:  dp.History(),
			HistoryLimit: cfg.Console.HistoryLimit,
			Log:          log,
		})
		if err != nil {
			log.Error("failed to start console", "error", err)
			return 1
		}
		d.view = con
		go con.ReadLoop(ctx)
	}

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		d.consume(ctx, events.Events())
	}()

	sigs := signalChannel()
	resizes := resizeChannel()
	go func() {
		for {
			select {
			case sig := <-sigs:
				log.Info("received signal, shutting down", "signal", sig)
				stop.Stop()
			case <-resizes:
				events.Resize()
			case <-consumed:
				return
			}
		}
	}()

	listener := jami.NewListener(conn, events,
		jami.WithPollInterval(cfg.PollInterval()),
		jami.WithLogger(log),
		jami.WithMetrics(m),
	)
	runErr := listener.Run(ctx, stop)

	<-consumed
	cancel()
	if con != nil {
		if err := con.Close(); err != nil {
			log.Debug("closing console", "error", err)
		}
	}

	if runErr != nil {
		logger.Fail(log, "listener failed", "error", runErr)
		return 1
	}
	log.Info("jamibus stopped")
	return 0
}

// ///////////////////////////////////////////////
// Bus Connection
// ///////////////////////////////////////////////

// dialAttempts bounds how often the bus connection is retried at startup.
const dialAttempts = 5

// dialWithRetry connects to the bus, retrying at most once per second.
func dialWithRetry(ctx context.Context, cfg bus.Config, log *slog.Logger) (*bus.DBusConn, error) {
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	var lastErr error
	for i := range dialAttempts {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		conn, err := bus.Dial(ctx, cfg, log)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Warn("bus connect attempt failed", "attempt", i+1, "error", err)
	}
	return nil, fmt.Errorf("connecting after %d attempts: %w", dialAttempts, lastErr)
}
