// Command docsync copies changed MongoDB documents into PostgreSQL.
//
//	docsync [run] [flags]            run one incremental sync
//	docsync reset [--kind k ...]     forget per-kind cursors
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/bjaus/docsync/internal/checkpoint"
	"github.com/bjaus/docsync/internal/config"
	"github.com/bjaus/docsync/internal/load"
	"github.com/bjaus/docsync/internal/logger"
	"github.com/bjaus/docsync/internal/notify"
	"github.com/bjaus/docsync/internal/resolve"
	"github.com/bjaus/docsync/internal/runner"
	"github.com/bjaus/docsync/internal/schema"
	"github.com/bjaus/docsync/internal/source"
)

const notifyTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	cmd, args := command(args)

	fs := config.Flags("docsync " + cmd)
	kinds := fs.StringSlice("kind", nil, "kind to reset (repeatable; default all)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	path, _ := fs.GetString("config")
	cfg, err := config.Load(path)
	if err == nil {
		err = config.ApplyFlags(fs, &cfg)
	}
	debug, _ := fs.GetBool("debug")
	log := logger.New(logger.Options{Debug: debug || cfg.Debug})
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 2
	}

	switch cmd {
	case "reset":
		err = reset(ctx, cfg, *kinds, log)
	default:
		err = sync(ctx, cfg, log)
	}
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("docsync failed")
		return 1
	}
	return 0
}

// command splits a leading subcommand off args. Anything else runs a sync.
func command(args []string) (string, []string) {
	if len(args) > 0 {
		switch args[0] {
		case "run", "reset":
			return args[0], args[1:]
		}
	}
	return "run", args
}

func sync(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	notifier, err := notifiers(cfg.Notify, log)
	if err != nil {
		return err
	}

	r, closeAll, err := connect(ctx, cfg, notifier, log)
	if err != nil {
		startupFailure(ctx, notifier, cfg.Notify.LogURL, err, log)
		return err
	}
	defer closeAll()

	_, err = r.Run(ctx)
	return err
}

// connect opens the stores and builds the runner. closeAll releases what
// was opened.
func connect(ctx context.Context, cfg config.Config, notifier notify.Notifier, log zerolog.Logger) (*runner.Runner, func(), error) {
	store, err := openStore(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	client, err := source.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Timeout)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	closeAll := func() {
		if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("failed to disconnect mongo")
		}
		pool.Close()
	}

	r, err := runner.New(runner.Deps{
		Finder:   source.NewMongoFinder(client.Database(cfg.Mongo.Database)),
		Lookup:   resolve.NewPostgresLookup(pool),
		Upserter: load.NewPostgresUpserter(pool),
		Store:    store,
		Notifier: notifier,
		Log:      log,
	}, runner.Options{
		BatchSize:        cfg.BatchSize,
		Workers:          cfg.Workers,
		ResolveThreshold: cfg.ResolveThreshold,
		LoadChunkSize:    cfg.LoadChunkSize,
		DrainTimeout:     cfg.DrainTimeout,
		LogRef:           cfg.Notify.LogURL,
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return r, closeAll, nil
}

// startupFailure reports a failure that happened before the runner could
// start, such as an unreachable store.
func startupFailure(ctx context.Context, notifier notify.Notifier, logRef string, err error, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	failure := notify.Failure{
		RunID:  uuid.New(),
		Stage:  string(runner.StageStartup),
		Time:   time.Now().UTC(),
		LogRef: logRef,
		Err:    err,
	}
	if nerr := notifier.Notify(ctx, failure); nerr != nil {
		log.Error().Err(nerr).Msg("failure notification not delivered")
	}
}

func reset(ctx context.Context, cfg config.Config, names []string, log zerolog.Logger) error {
	kinds, err := parseKinds(names)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	tracker, err := checkpoint.Open(ctx, store, log)
	if err != nil {
		return err
	}
	return tracker.Reset(ctx, kinds...)
}

func parseKinds(names []string) ([]schema.Kind, error) {
	kinds := make([]schema.Kind, 0, len(names))
	var errs []error
	for _, n := range names {
		k := schema.Kind(n)
		if _, err := schema.Get(k); err != nil {
			errs = append(errs, err)
			continue
		}
		kinds = append(kinds, k)
	}
	return kinds, errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.Checkpoint) (checkpoint.Store, error) {
	if !cfg.UsesObjectStore() {
		return checkpoint.NewFileStore(cfg.Path), nil
	}
	bucket, err := checkpoint.NewMinioBucket(checkpoint.BucketConfig{
		Endpoint:  cfg.Endpoint,
		Bucket:    cfg.Bucket,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := bucket.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return checkpoint.NewObjectStore(bucket, cfg.Object), nil
}

func notifiers(cfg config.Notify, log zerolog.Logger) (notify.Notifier, error) {
	multi := notify.Multi{notify.NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		hook, err := notify.NewWebhookNotifier(notify.WebhookConfig{URL: cfg.WebhookURL})
		if err != nil {
			return nil, err
		}
		multi = append(multi, hook)
	}
	return multi, nil
}
