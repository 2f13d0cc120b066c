package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/auth"
	"github.com/MarcoPoloResearchLab/tunerboard/internal/config"
	"github.com/MarcoPoloResearchLab/tunerboard/internal/database"
	"github.com/MarcoPoloResearchLab/tunerboard/internal/kv"
	"github.com/MarcoPoloResearchLab/tunerboard/internal/logging"
	"github.com/MarcoPoloResearchLab/tunerboard/internal/server"
	"github.com/MarcoPoloResearchLab/tunerboard/internal/tuners"
	"github.com/MarcoPoloResearchLab/tunerboard/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tunerboard-api",
		Short: "Tunerboard backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueSessionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("http.allowed_origins"), "Comma separated CORS origins")
	cmd.PersistentFlags().String("store-backend", defaults.GetString("store.backend"), "Key-value backend (sqlite, redis)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("redis-address", "", "Redis address (host:port)")
	cmd.PersistentFlags().String("auth-mode", defaults.GetString("auth.mode"), "Session verification mode (jwks, local)")
	cmd.PersistentFlags().String("jwks-url", "", "JWKS URL of the identity provider")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Local session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "store.backend", "store-backend")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "auth.mode", "auth-mode")
	bindFlag(cmd, "auth.jwks_url", "jwks-url")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, db, err := openStore(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()
	}

	resolver, err := newIdentityResolver(appConfig, db, logger)
	if err != nil {
		return err
	}

	tunerService, err := tuners.NewService(tuners.ServiceConfig{
		Store:       store,
		Clock:       time.Now,
		IDProvider:  tuners.NewUUIDProvider(),
		Logger:      logger,
		ShuffleSeed: appConfig.ListingShuffleKey,
		PageSize:    appConfig.ListingPageSize,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tuners:         tunerService,
		Identities:     resolver,
		CookieName:     appConfig.CookieName,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("store_backend", appConfig.StoreBackend),
			zap.String("auth_mode", appConfig.AuthMode))
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

// openStore opens the configured key-value backend. The SQLite database is
// also returned when local sessions need the profile table, and is nil otherwise.
func openStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (kv.Store, *gorm.DB, error) {
	var db *gorm.DB
	if appConfig.StoreBackend == config.StoreBackendSQLite || appConfig.AuthMode == config.AuthModeLocal {
		opened, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		db = opened
	}

	switch appConfig.StoreBackend {
	case config.StoreBackendRedis:
		client, err := database.OpenRedis(ctx, database.RedisConfig{
			Address:  appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := kv.NewRedisStore(kv.RedisStoreConfig{
			Client:    client,
			Namespace: appConfig.RedisNamespace,
			Logger:    logger,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, db, nil
	default:
		store, err := kv.NewSQLiteStore(kv.SQLiteStoreConfig{Database: db, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return store, db, nil
	}
}

func newIdentityResolver(appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (*auth.Resolver, error) {
	var (
		verifier auth.SessionVerifier
		profiles auth.ProfileSource
	)
	switch appConfig.AuthMode {
	case config.AuthModeLocal:
		sessions, err := newLocalSessions(appConfig)
		if err != nil {
			return nil, err
		}
		profileService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
		if err != nil {
			return nil, err
		}
		verifier = sessions
		profiles = profileService
	default:
		jwksVerifier, err := auth.NewJWKSVerifier(auth.JWKSVerifierConfig{
			JWKSURL: appConfig.JWKSURL,
			Issuer:  appConfig.Issuer,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		directory, err := auth.NewProfileDirectory(auth.ProfileDirectoryConfig{
			BaseURL: appConfig.UserAPIURL,
			APIKey:  appConfig.APIKey,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		verifier = jwksVerifier
		profiles = directory
	}

	return auth.NewResolver(auth.ResolverConfig{
		Verifier:        verifier,
		Profiles:        profiles,
		ProfileCacheTTL: appConfig.ProfileCacheTTL,
		Logger:          logger,
	})
}

func newLocalSessions(appConfig config.AppConfig) (*auth.LocalSessions, error) {
	return auth.NewLocalSessions(auth.LocalSessionsConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TTL:           appConfig.LocalSessionTTL,
	})
}

func newIssueSessionCommand() *cobra.Command {
	var (
		username  string
		avatarURL string
		isAdmin   bool
	)
	cmd := &cobra.Command{
		Use:   "issue-session <user-id>",
		Short: "Register a local profile and print a session token for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueSession(cmd, auth.Profile{
				ID:        strings.TrimSpace(args[0]),
				Username:  username,
				AvatarURL: avatarURL,
				IsAdmin:   isAdmin,
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Display name stored with the profile")
	cmd.Flags().StringVar(&avatarURL, "avatar-url", "", "Avatar image url stored with the profile")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "Grant moderation rights")
	return cmd
}

func issueSession(cmd *cobra.Command, profile auth.Profile) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if appConfig.AuthMode != config.AuthModeLocal {
		return fmt.Errorf("issue-session requires auth mode %q, configured %q", config.AuthModeLocal, appConfig.AuthMode)
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	profileService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}
	if err := profileService.UpsertProfile(cmd.Context(), profile); err != nil {
		return err
	}

	sessions, err := newLocalSessions(appConfig)
	if err != nil {
		return err
	}
	token, expiresIn, err := sessions.Issue(cmd.Context(), profile.ID)
	if err != nil {
		return err
	}
	logger.Info("local session issued", zap.String("user_id", profile.ID), zap.Int64("expires_in", expiresIn))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
