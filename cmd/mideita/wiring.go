package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/config"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/database"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/quota"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"gorm.io/gorm"
)

// storeHandle is an opened authoritative store plus what must be closed with it.
type storeHandle struct {
	store ideas.Store
	db    *gorm.DB
	close func() error
}

func openStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (storeHandle, error) {
	switch appConfig.Store.Backend {
	case config.StoreFirestore:
		options := []option.ClientOption{}
		if appConfig.Firestore.CredentialsFile != "" {
			options = append(options, option.WithCredentialsFile(appConfig.Firestore.CredentialsFile))
		}
		client, err := firestore.NewClient(ctx, appConfig.Firestore.ProjectID, options...)
		if err != nil {
			return storeHandle{}, fmt.Errorf("firestore client: %w", err)
		}
		store, err := ideas.NewFirestoreStore(ideas.FirestoreStoreConfig{
			Client:     client,
			Collection: appConfig.Firestore.Collection,
			Clock:      time.Now,
			Logger:     logger,
		})
		if err != nil {
			_ = client.Close()
			return storeHandle{}, err
		}
		return storeHandle{store: store, close: client.Close}, nil
	default:
		db, err := database.Open(database.Config{
			Driver: appConfig.Database.Driver,
			Path:   appConfig.Database.Path,
			DSN:    appConfig.Database.DSN,
		}, logger)
		if err != nil {
			return storeHandle{}, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return storeHandle{}, err
		}
		store, err := ideas.NewSQLStore(ideas.SQLStoreConfig{
			Database:   db,
			Clock:      time.Now,
			IDProvider: ideas.NewUUIDProvider(),
			Logger:     logger,
		})
		if err != nil {
			_ = sqlDB.Close()
			return storeHandle{}, err
		}
		return storeHandle{store: store, db: db, close: sqlDB.Close}, nil
	}
}

func openAssetHost(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*assets.S3Host, error) {
	return assets.NewS3Host(ctx, assets.S3Config{
		Bucket:        appConfig.Assets.Bucket,
		Region:        appConfig.Assets.Region,
		Endpoint:      appConfig.Assets.Endpoint,
		AccessKey:     appConfig.Assets.AccessKey,
		SecretKey:     appConfig.Assets.SecretKey,
		PublicBaseURL: appConfig.Assets.PublicBaseURL,
		Tag:           appConfig.Assets.Tag,
		Logger:        logger,
	})
}

func quotaPolicy(appConfig config.AppConfig) quota.Policy {
	return quota.Policy{
		DailyLimit:    appConfig.Quota.DailyLimit,
		GuestCooldown: appConfig.Quota.GuestCooldown,
		Location:      time.Local,
	}
}
