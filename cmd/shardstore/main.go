// Command shardstore serves a storage backend to remote clients over
// WebSocket, so many gatherers can share one world.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shardfall/shardfall/internal/catalog"
	"github.com/shardfall/shardfall/internal/config"
	"github.com/shardfall/shardfall/internal/logging"
	"github.com/shardfall/shardfall/internal/relay"
	"github.com/shardfall/shardfall/internal/storage"
	"github.com/shardfall/shardfall/internal/storage/factory"
	"github.com/shardfall/shardfall/pkg/core"
)

const program = "shardstore"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", program, err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet(program, pflag.ContinueOnError)
	configDir := fs.String("config-dir", ".", "directory holding "+config.FileName+" and .env")
	fs.String("listen", "", "listen address")
	fs.String("backing", "", "backing store: memory, sqlite or postgres")
	fs.String("log-level", "", "debug, info, warn or error")
	exportCatalog := fs.String("export-catalog", "", "write the generated world layout to this YAML file and exit")
	seed := fs.Bool("seed", false, "write the world layout into an empty store before serving")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if err := config.BindFlags(fs, map[string]string{
		"listen":    "relay.listen",
		"backing":   "store.type",
		"log-level": "logLevel",
	}); err != nil {
		return err
	}
	if err := config.Load(*configDir); err != nil {
		return err
	}

	start := time.Now()
	logCfg := config.GetLogConfig()
	var fileOut io.Writer
	if file, err := logging.OpenLogFile(logCfg.Dir, program, start); err != nil {
		fmt.Fprintf(os.Stderr, "logging to console only: %v\n", err)
	} else {
		defer file.Close()
		fileOut = file
	}
	log := logging.NewZerolog(logCfg.Level, os.Stdout, fileOut, nil)

	worldCfg := config.GetWorldConfig()
	if *exportCatalog != "" {
		entries := catalog.Generate(worldCfg.Seed, worldCfg.NodeCount, worldCfg.Width, worldCfg.Height)
		if err := catalog.Save(*exportCatalog, entries); err != nil {
			return fmt.Errorf("exporting catalog: %w", err)
		}
		log.Info().Str("path", *exportCatalog).Int("resources", len(entries)).Msg("Catalog written")
		return nil
	}

	storeCfg := config.GetStoreConfig()
	if storeCfg.Type == "websocket" {
		return errors.New("the relay cannot be backed by another relay")
	}
	backend, err := factory.New(storeCfg, viper.GetString("dataDir"), start, factory.Loggers{Zerolog: log})
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("starting %s store: %w", storeCfg.Type, err)
	}
	defer backend.Close()

	if *seed {
		n, err := seedWorld(context.Background(), backend, worldCfg, storeCfg.Timeout)
		if err != nil {
			return err
		}
		log.Info().Int("resources", n).Msg("World seeded")
	}

	relayCfg := config.GetRelayConfig()
	srv, err := relay.New(relay.Config{
		Secret:         relayCfg.Secret,
		WriteRate:      relayCfg.WriteRate,
		WriteBurst:     relayCfg.WriteBurst,
		RequestTimeout: storeCfg.Timeout,
	}, backend, log)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              relayCfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", relayCfg.Listen).Str("backing", storeCfg.Type).Msg("Relay listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay stopped: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Int("clients", srv.Clients()).Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}
	return nil
}

// seedWorld writes the configured layout when the resources collection is
// empty and reports how many records it wrote.
func seedWorld(ctx context.Context, backend storage.Backend, world config.WorldConfig, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := backend.Read(ctx, core.ResourcesCollection)
	if err != nil {
		return 0, fmt.Errorf("reading resources: %w", err)
	}
	if len(snap.Children) > 0 {
		return 0, nil
	}

	var entries []catalog.Entry
	if world.CatalogPath != "" {
		if entries, err = catalog.Load(world.CatalogPath); err != nil {
			return 0, err
		}
	} else {
		entries = catalog.Generate(world.Seed, world.NodeCount, world.Width, world.Height)
	}

	now := core.Millis(time.Now())
	for _, node := range catalog.Nodes(entries) {
		value, err := core.EncodeRecord(core.ResourceRecord{
			Position:    node.Position,
			Rarity:      node.Rarity,
			LastUpdated: now,
		})
		if err != nil {
			return 0, err
		}
		if err := backend.Write(ctx, core.ResourcePath(node.ID), value); err != nil {
			return 0, fmt.Errorf("seeding %s: %w", node.ID, err)
		}
	}
	return len(entries), nil
}
