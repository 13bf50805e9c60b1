package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/config"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/database"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/server"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ideas API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper(), config.ProfileServe)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	handle, err := openStore(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer handle.close() //nolint:errcheck

	// The author directory always lives in SQL, next to the store or on its own.
	directoryDB := handle.db
	if directoryDB == nil {
		directoryDB, err = database.Open(database.Config{
			Driver: appConfig.Database.Driver,
			Path:   appConfig.Database.Path,
			DSN:    appConfig.Database.DSN,
		}, logger)
		if err != nil {
			return fmt.Errorf("author directory: %w", err)
		}
	}
	authors, err := users.NewService(users.ServiceConfig{Database: directoryDB, Clock: time.Now})
	if err != nil {
		return err
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.Session.SigningSecret),
		Issuer:        appConfig.Session.Issuer,
		CookieName:    appConfig.Session.CookieName,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:         handle.store,
		Sessions:      validator,
		Authors:       authors,
		Quota:         quotaPolicy(appConfig),
		MaxSavedIdeas: appConfig.Quota.MaxSavedIdeas,
		Registry:      registry,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("store", appConfig.Store.Backend))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
