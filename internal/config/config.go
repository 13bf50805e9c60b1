package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "MIDEITA"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = "sqlite"
	defaultDatabasePath    = "mideita.db"
	defaultStoreBackend    = "sql"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultCookieName      = "app_session"
	defaultSessionIssuer   = "mideita"
	defaultDailyLimit      = 10
	defaultMaxSavedIdeas   = 50
	defaultAssetsTag       = "mideita_upload"
	defaultRedisAddress    = "127.0.0.1:6379"
	defaultLockTTL         = 10 * time.Minute
	defaultLocalPath       = "mideita-device.db"
	defaultFirestoreIdeas  = "ideas"
	defaultAssetsRegion    = "us-east-1"
	defaultRecentCommunity = 20
)

const (
	StoreSQL       = "sql"
	StoreFirestore = "firestore"
)

// Profile selects which settings a command requires.
type Profile int

const (
	ProfileServe Profile = iota
	ProfileReconcile
	ProfileDevice
)

// AppConfig captures runtime configuration for every command.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string
	LogFormat   string

	Database  DatabaseConfig
	Store     StoreConfig
	Firestore FirestoreConfig
	Session   SessionConfig
	Quota     QuotaConfig
	Assets    AssetsConfig
	Redis     RedisConfig
	Local     LocalConfig
	APIURL    string

	ReconcilerLockTTL time.Duration
}

type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

type StoreConfig struct {
	Backend string
}

type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

type SessionConfig struct {
	SigningSecret string
	Issuer        string
	CookieName    string
}

type QuotaConfig struct {
	DailyLimit     int
	MaxSavedIdeas  int
	GuestCooldown  time.Duration
	CommunityLimit int
}

type AssetsConfig struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	Tag           string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type LocalConfig struct {
	Path string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("store.backend", defaultStoreBackend)
	configViper.SetDefault("firestore.collection", defaultFirestoreIdeas)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("quota.daily_limit", defaultDailyLimit)
	configViper.SetDefault("quota.max_saved_ideas", defaultMaxSavedIdeas)
	configViper.SetDefault("quota.guest_cooldown", time.Duration(0))
	configViper.SetDefault("quota.community_limit", defaultRecentCommunity)
	configViper.SetDefault("assets.region", defaultAssetsRegion)
	configViper.SetDefault("assets.tag", defaultAssetsTag)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("reconciler.lock_ttl", defaultLockTTL)
	configViper.SetDefault("local.path", defaultLocalPath)
}

// Load parses runtime configuration from viper and validates it for profile.
func Load(configViper *viper.Viper, profile Profile) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		LogLevel:    configViper.GetString("log.level"),
		LogFormat:   configViper.GetString("log.format"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(strings.TrimSpace(configViper.GetString("store.backend"))),
		},
		Firestore: FirestoreConfig{
			ProjectID:       configViper.GetString("firestore.project_id"),
			CredentialsFile: configViper.GetString("firestore.credentials_file"),
			Collection:      configViper.GetString("firestore.collection"),
		},
		Session: SessionConfig{
			SigningSecret: configViper.GetString("session.signing_secret"),
			Issuer:        configViper.GetString("session.issuer"),
			CookieName:    configViper.GetString("session.cookie_name"),
		},
		Quota: QuotaConfig{
			DailyLimit:     configViper.GetInt("quota.daily_limit"),
			MaxSavedIdeas:  configViper.GetInt("quota.max_saved_ideas"),
			GuestCooldown:  configViper.GetDuration("quota.guest_cooldown"),
			CommunityLimit: configViper.GetInt("quota.community_limit"),
		},
		Assets: AssetsConfig{
			Bucket:        configViper.GetString("assets.bucket"),
			Region:        configViper.GetString("assets.region"),
			Endpoint:      configViper.GetString("assets.endpoint"),
			AccessKey:     configViper.GetString("assets.access_key"),
			SecretKey:     configViper.GetString("assets.secret_key"),
			PublicBaseURL: configViper.GetString("assets.public_base_url"),
			Tag:           configViper.GetString("assets.tag"),
		},
		Redis: RedisConfig{
			Address:  configViper.GetString("redis.address"),
			Password: configViper.GetString("redis.password"),
			DB:       configViper.GetInt("redis.db"),
		},
		Local: LocalConfig{
			Path: configViper.GetString("local.path"),
		},
		APIURL:            configViper.GetString("api.url"),
		ReconcilerLockTTL: configViper.GetDuration("reconciler.lock_ttl"),
	}

	if err := cfg.validate(profile); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate(profile Profile) error {
	var problems []error
	if c.Quota.DailyLimit <= 0 {
		problems = append(problems, fmt.Errorf("quota.daily_limit must be positive"))
	}
	if c.Quota.MaxSavedIdeas <= 0 {
		problems = append(problems, fmt.Errorf("quota.max_saved_ideas must be positive"))
	}
	if c.Quota.GuestCooldown < 0 {
		problems = append(problems, fmt.Errorf("quota.guest_cooldown must not be negative"))
	}

	switch profile {
	case ProfileServe:
		if strings.TrimSpace(c.Session.SigningSecret) == "" {
			problems = append(problems, fmt.Errorf("session.signing_secret is required"))
		}
		if strings.TrimSpace(c.Session.CookieName) == "" {
			problems = append(problems, fmt.Errorf("session.cookie_name is required"))
		}
		problems = append(problems, c.validateStore()...)
	case ProfileReconcile:
		if strings.TrimSpace(c.Assets.Bucket) == "" {
			problems = append(problems, fmt.Errorf("assets.bucket is required"))
		}
		if strings.TrimSpace(c.Redis.Address) == "" {
			problems = append(problems, fmt.Errorf("redis.address is required"))
		}
		if c.ReconcilerLockTTL <= 0 {
			problems = append(problems, fmt.Errorf("reconciler.lock_ttl must be positive"))
		}
		problems = append(problems, c.validateStore()...)
	case ProfileDevice:
		if strings.TrimSpace(c.Local.Path) == "" {
			problems = append(problems, fmt.Errorf("local.path is required"))
		}
		if strings.TrimSpace(c.APIURL) == "" {
			problems = append(problems, c.validateStore()...)
		}
	}
	return errors.Join(problems...)
}

func (c AppConfig) validateStore() []error {
	switch c.Store.Backend {
	case StoreSQL:
		switch c.Database.Driver {
		case "sqlite":
			if strings.TrimSpace(c.Database.Path) == "" {
				return []error{fmt.Errorf("database.path is required")}
			}
		case "postgres":
			if strings.TrimSpace(c.Database.DSN) == "" {
				return []error{fmt.Errorf("database.dsn is required for postgres")}
			}
		default:
			return []error{fmt.Errorf("database.driver %q is not supported", c.Database.Driver)}
		}
	case StoreFirestore:
		if strings.TrimSpace(c.Firestore.ProjectID) == "" {
			return []error{fmt.Errorf("firestore.project_id is required")}
		}
	default:
		return []error{fmt.Errorf("store.backend %q is not supported", c.Store.Backend)}
	}
	return nil
}
