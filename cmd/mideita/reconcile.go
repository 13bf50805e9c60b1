package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/config"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/reconciler"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/runlock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newReconcileCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile-assets",
		Short: "Delete hosted images whose idea no longer exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), cmd.OutOrStdout(), dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report orphans without deleting them")
	return cmd
}

func runReconcile(ctx context.Context, out io.Writer, dryRun bool) error {
	appConfig, err := config.Load(viper.GetViper(), config.ProfileReconcile)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     appConfig.Redis.Address,
		Password: appConfig.Redis.Password,
		DB:       appConfig.Redis.DB,
	})
	defer redisClient.Close()

	lock, err := runlock.NewRedisLock(runlock.Config{
		Client: redisClient,
		Key:    runlock.DefaultKey,
		TTL:    appConfig.ReconcilerLockTTL,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	lease, err := lock.Acquire(signalCtx)
	if err != nil {
		if errors.Is(err, runlock.ErrLockHeld) {
			fmt.Fprintln(out, "another reconcile-assets run is in progress")
		}
		return err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			logger.Warn("run lock release failed", zap.Error(err))
		}
	}()

	refreshCtx, stopRefresh := context.WithCancel(signalCtx)
	defer stopRefresh()
	go keepLease(refreshCtx, lease, appConfig.ReconcilerLockTTL/3, logger)

	handle, err := openStore(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer handle.close() //nolint:errcheck

	host, err := openAssetHost(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	metrics, err := reconciler.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	job, err := reconciler.New(reconciler.Config{
		Store:   handle.store,
		Host:    host,
		Tag:     appConfig.Assets.Tag,
		DryRun:  dryRun,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	result, err := job.Reconcile(signalCtx)
	if err != nil {
		return err
	}
	printReconcileResult(out, result, dryRun)
	if len(result.Errors) > 0 {
		return fmt.Errorf("%d orphaned assets could not be deleted", len(result.Errors))
	}
	return nil
}

func printReconcileResult(out io.Writer, result reconciler.Result, dryRun bool) {
	if dryRun {
		fmt.Fprintf(out, "orphans found: %d (dry run, nothing deleted)\n", len(result.Orphans))
		for _, orphan := range result.Orphans {
			fmt.Fprintf(out, "  %s (idea %s)\n", orphan.AssetID, orphan.IdeaID)
		}
		return
	}
	fmt.Fprintf(out, "orphans found: %d, deleted: %d, failed: %d\n",
		len(result.Orphans), len(result.Deleted), len(result.Errors))
	for _, failure := range result.Errors {
		fmt.Fprintf(out, "  failed %s: %v\n", failure.AssetID, failure.Err)
	}
}

// keepLease extends the run lock until ctx ends or the lease is lost.
func keepLease(ctx context.Context, lease *runlock.Lease, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Refresh(ctx); err != nil {
				if ctx.Err() == nil {
					logger.Warn("run lock refresh failed", zap.Error(err))
				}
				if errors.Is(err, runlock.ErrLockLost) {
					return
				}
			}
		}
	}
}
