// Command gatherer runs a headless client: a bot walks the shared world and
// gathers whatever is available, contending with every other client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shardfall/shardfall/internal/api"
	"github.com/shardfall/shardfall/internal/config"
	"github.com/shardfall/shardfall/internal/gather"
	"github.com/shardfall/shardfall/internal/game"
	"github.com/shardfall/shardfall/internal/influx"
	"github.com/shardfall/shardfall/internal/logging"
	"github.com/shardfall/shardfall/internal/loop"
	"github.com/shardfall/shardfall/internal/monitor"
	intOtel "github.com/shardfall/shardfall/internal/otel"
	"github.com/shardfall/shardfall/internal/player"
	"github.com/shardfall/shardfall/internal/storage"
	"github.com/shardfall/shardfall/internal/storage/factory"
	"github.com/shardfall/shardfall/internal/storage/memory"
)

const program = "gatherer"

// Version can be set at build time via ldflags.
var Version = "0.0.1"

type app struct {
	start    time.Time
	slog     *logging.SlogManager
	logger   *slog.Logger
	zlog     zerolog.Logger
	logFile  *os.File
	otel     *intOtel.Provider
	graylog  logging.MessageWriter
	backend  storage.Backend
	influx   *influx.Manager
	identity player.Identity
	session  atomic.Pointer[game.Session]
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", program, err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet(program, pflag.ContinueOnError)
	configDir := fs.String("config-dir", ".", "directory holding "+config.FileName+" and .env")
	fs.String("name", "", "display name for a new identity")
	fs.String("store", "", "store backend: memory, sqlite, postgres or websocket")
	fs.String("log-level", "", "debug, info, warn or error")
	duration := fs.Duration("duration", 0, "stop after this long, 0 runs until interrupted")
	noBot := fs.Bool("idle", false, "stand still instead of running the bot")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if err := config.BindFlags(fs, map[string]string{
		"name":      "player.displayName",
		"store":     "store.type",
		"log-level": "logLevel",
	}); err != nil {
		return err
	}
	if err := config.Load(*configDir); err != nil {
		return err
	}

	a := &app{start: time.Now()}
	if err := a.setupLogging(); err != nil {
		return err
	}
	defer a.shutdownLogging()

	identity, err := player.LoadOrCreateIdentity(viper.GetString("dataDir"), viper.GetString("player.displayName"))
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	a.identity = identity
	a.logger.Info("identity loaded", "player", identity.ID, "name", identity.DisplayName, "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	a.backend = a.openStore(ctx)
	defer func() {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("closing store", "error", err)
		}
	}()

	events := a.openTelemetry(ctx)
	defer a.closeTelemetry()

	return a.play(ctx, events, !*noBot)
}

func (a *app) setupLogging() error {
	logCfg := config.GetLogConfig()
	file, err := logging.OpenLogFile(logCfg.Dir, program, a.start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging to console only: %v\n", err)
	}
	a.logFile = file

	var fileOut io.Writer
	if file != nil {
		fileOut = file
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		a.otel, err = intOtel.New(intOtel.Config{
			Enabled:      true,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    fileOut,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "otel disabled: %v\n", err)
		}
	}
	if logCfg.GraylogEnabled {
		w, err := logging.NewGraylogWriter(logCfg.GraylogAddress, program)
		if err != nil {
			fmt.Fprintf(os.Stderr, "graylog disabled: %v\n", err)
		} else {
			a.graylog = w
		}
	}

	opts := logging.Options{
		Level:       logCfg.Level,
		ServiceName: program,
		Console:     os.Stdout,
		File:        fileOut,
		GELF:        a.graylog,
		Context: func() []slog.Attr {
			s := a.session.Load()
			if s == nil {
				return nil
			}
			return logging.SessionContext(a.identity.ID, map[string]func() int64{
				"remotePlayers": s.RemoteCount,
			})()
		},
	}
	if a.otel != nil {
		opts.Provider = a.otel.LoggerProvider()
	}
	a.slog = logging.NewSlogManager()
	a.slog.Setup(opts)
	a.logger = a.slog.Logger()

	a.zlog = logging.NewZerolog(logCfg.Level, os.Stdout, fileOut, func(e *zerolog.Event) {
		if a.identity.ID != "" {
			e.Str("player", a.identity.ID)
		}
	})
	return nil
}

func (a *app) shutdownLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.slog.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "flushing logs: %v\n", err)
	}
	if a.otel != nil {
		_ = a.otel.Shutdown(ctx)
	}
	if a.graylog != nil {
		_ = logging.CloseWriter(a.graylog)
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// openStore connects the configured backend. A relay that is down or a
// backend that fails to initialize leaves the client on a private in-memory
// store, so it can still play offline.
func (a *app) openStore(ctx context.Context) storage.Backend {
	storeCfg := config.GetStoreConfig()
	if storeCfg.Type == "websocket" {
		hctx, cancel := context.WithTimeout(ctx, storeCfg.Timeout)
		health, err := api.New(factory.WSToHTTP(storeCfg.WebSocket.URL)).Healthcheck(hctx)
		cancel()
		if err != nil {
			a.logger.Warn("relay unreachable, playing offline", "url", storeCfg.WebSocket.URL, "error", err)
			return a.offline()
		}
		a.logger.Info("relay is online", "clients", health.Clients)
	}

	backend, err := factory.New(storeCfg, viper.GetString("dataDir"), a.start, factory.Loggers{Zerolog: a.zlog, Slog: a.logger})
	if err != nil {
		a.logger.Warn("store unavailable, playing offline", "error", err)
		return a.offline()
	}
	if err := backend.Init(); err != nil {
		a.logger.Warn("store failed to start, playing offline", "type", storeCfg.Type, "error", err)
		_ = backend.Close()
		return a.offline()
	}
	return backend
}

func (a *app) offline() storage.Backend {
	b := memory.New()
	_ = b.Init()
	return b
}

func (a *app) openTelemetry(ctx context.Context) gather.Events {
	influxCfg := config.GetInfluxConfig()
	if !influxCfg.Enabled {
		return nil
	}
	m := influx.NewManager(influxCfg, a.zlog)
	if err := m.Connect(ctx); err != nil {
		a.logger.Warn("telemetry disabled", "error", err)
		return nil
	}
	a.influx = m
	return influx.NewTelemetry(m, uuid.NewString(), nil)
}

func (a *app) closeTelemetry() {
	if a.influx == nil {
		return
	}
	if err := a.influx.Close(); err != nil {
		a.logger.Warn("closing telemetry", "error", err)
	}
}

func (a *app) play(ctx context.Context, events gather.Events, withBot bool) error {
	gameCfg := config.GetGameConfig()
	storeCfg := config.GetStoreConfig()

	var (
		sess *game.Session
		bot  *game.Bot
	)
	l, err := loop.New(gameCfg.TickInterval(), 4096, func(dt time.Duration) {
		sess.Tick(dt)
		if bot != nil {
			bot.Step()
		}
	}, a.logger)
	if err != nil {
		return err
	}

	sess, err = game.New(game.Config{
		Game:    gameCfg,
		World:   config.GetWorldConfig(),
		Publish: config.GetPublishConfig(),
		Timeout: storeCfg.Timeout,
	}, game.Dependencies{
		Store:    a.backend,
		Loop:     l,
		Identity: a.identity,
		Events:   events,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}
	a.session.Store(sess)
	if withBot {
		bot = game.NewBot(sess, uint64(a.start.UnixNano()), 5*time.Second)
	}

	mon := monitor.NewService(monitor.Dependencies{
		Status: func() monitor.Status {
			st := sess.Status()
			st.LoopQueue = l.Pending()
			return st
		},
		Path:     filepath.Join(viper.GetString("dataDir"), program+"_status.json"),
		Interval: time.Second,
		Logger:   a.logger,
	})
	mon.Start()
	defer mon.Stop()

	err = l.Run(ctx)
	// Run returned, so this goroutine owns the session again
	sess.Stop()
	l.Wait()
	l.Drain()
	a.logger.Info("session finished",
		"shards", sess.Player().ShardTotal(),
		"inventory", fmt.Sprint(sess.Player().Inventory()),
	)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
