// Command licensectl administers POS licenses and payments directly against
// the license store.
//
// Usage:
//
//	licensectl <command> [flags]
//
// Commands: create, get, list, validate, renew, deactivate, delete, update, pay,
// payments, summary. Engine settings are read from LICENSE_* variables and
// store settings from LICENSECTL_* variables; a .env file in the working
// directory is loaded first if present.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/CloudNativeWorks/cnw-pos-license/poslicense"
	"github.com/CloudNativeWorks/cnw-pos-license/poslicense/licensestore"
)

// cliConfig selects and locates the license store.
type cliConfig struct {
	Backend       string `envconfig:"BACKEND" default:"mongo"`
	MongoURI      string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"pos_licenses"`
	PostgresURL   string `envconfig:"POSTGRES_URL"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "licensectl: load .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "licensectl: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		fmt.Fprint(os.Stderr, usage)
		return errUsage
	}

	var cfg cliConfig
	if err := envconfig.Process("LICENSECTL", &cfg); err != nil {
		return fmt.Errorf("load cli config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)

	engineCfg, err := poslicense.LoadConfig()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := poslicense.NewEngine(engineCfg, store,
		poslicense.WithLogger(logger.With("component", "license")))
	if err != nil {
		return err
	}
	a := &app{
		engine: engine,
		ledger: poslicense.NewLedger(engine, store),
		out:    os.Stdout,
	}
	return a.run(ctx, args)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openStore connects the configured backend. The returned func releases
// the connection.
func openStore(ctx context.Context, cfg cliConfig) (poslicense.Store, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case "mongo", "mongodb":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		disconnect := func() { _ = client.Disconnect(context.Background()) }
		if err := client.Ping(ctx, nil); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}
		store, err := licensestore.NewMongoStore(ctx, client.Database(cfg.MongoDatabase))
		if err != nil {
			disconnect()
			return nil, nil, err
		}
		return store, disconnect, nil

	case "postgres", "postgresql":
		if cfg.PostgresURL == "" {
			return nil, nil, errors.New("LICENSECTL_POSTGRES_URL is required for the postgres backend")
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		store, err := licensestore.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q (want mongo or postgres)", cfg.Backend)
}
