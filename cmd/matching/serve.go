package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bkohler93/peermatch/internal/app/matching"
	"github.com/bkohler93/peermatch/internal/shared/archive"
	"github.com/bkohler93/peermatch/internal/shared/config"
	"github.com/bkohler93/peermatch/internal/shared/logging"
	"github.com/bkohler93/peermatch/internal/shared/verification"
	"github.com/bkohler93/peermatch/internal/shared/waiting"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	*rootOptions
	workers   int
	adminPort int
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume match requests and run the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("workers") {
				opts.cfg.Workers = opts.workers
			}
			if cmd.Flags().Changed("admin-port") {
				opts.cfg.AdminPort = opts.adminPort
			}
			return serve(cmd.Context(), opts.rootOptions)
		},
	}

	cmd.Flags().IntVar(&opts.workers, "workers", 0, "number of pairing workers (overrides MATCHING_WORKERS)")
	cmd.Flags().IntVar(&opts.adminPort, "admin-port", 0, "admin API port (overrides PORT)")
	return cmd
}

func serve(ctx context.Context, o *rootOptions) error {
	cfg := o.cfg
	log := logging.FromContext(ctx)
	if err := cfg.Validate(); err != nil {
		return err
	}

	rdb, err := o.redisClient(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store, dedup, err := newStore(cfg, rdb)
	if err != nil {
		return err
	}

	bus, err := matching.NewRedisTransportBus(ctx, rdb, cfg.ConsumerName)
	if err != nil {
		return fmt.Errorf("failed to join request stream: %w", err)
	}

	verifier := verification.NewHTTPClient(cfg.VerifyURL, verification.WithRateLimit(cfg.VerifyRateLimit, cfg.VerifyBurst))

	engineOpts := []matching.EngineOption{
		matching.WithPolicy(matching.PolicyFromConfig(cfg)),
		matching.WithDeduplicator(dedup),
	}
	var adminOpts []matching.AdminOption
	if cfg.MongoURI != "" {
		rec, err := archive.NewMongoRecorder(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		defer rec.Close(context.Background())
		engineOpts = append(engineOpts, matching.WithArchive(rec))
		adminOpts = append(adminOpts, matching.WithSessionFinder(rec))
		log.Info("archiving confirmed matches", "database", cfg.MongoDatabase)
	}
	engine := matching.NewEngine(store, verifier, bus, engineOpts...)

	m := &matching.Matcher{
		TransportBus: bus,
		Engine:       engine,
		Workers:      cfg.Workers,
	}
	admin := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.AdminPort),
		Handler: matching.NewAdminAPI(engine.Stats(), store, bus, log, adminOpts...).Handler(),
	}

	eg, gCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return m.Start(gCtx)
	})
	eg.Go(func() error {
		log.Info("admin API listening", "addr", admin.Addr)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return admin.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func newStore(cfg config.Config, rdb *redis.Client) (waiting.Store, waiting.Deduplicator, error) {
	switch cfg.Store {
	case config.RedisStore:
		store, err := waiting.NewRedisStore(rdb)
		if err != nil {
			return nil, nil, err
		}
		return store, waiting.NewRedisDeduplicator(rdb, cfg.DedupWindow), nil
	default:
		return waiting.NewMemoryStore(), waiting.NewMemoryDeduplicator(cfg.DedupWindow), nil
	}
}
