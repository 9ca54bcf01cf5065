package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wavely/roomcast/internal/auth"
	"github.com/wavely/roomcast/internal/permission"
	"github.com/wavely/roomcast/internal/storage"
	"github.com/wavely/roomcast/ws"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the roomcast server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := serveCmd.Flags()
	flags.String("config", "", "path to config file (TOML)")
	flags.String("addr", ":8080", "listen address")
	flags.Int("workers", 0, "worker pool size (0 = default)")

	return serveCmd
}

type serveConfig struct {
	Addr        string
	PathPrefix  string
	Workers     int
	MailboxSize int

	RateLimit struct {
		Enabled           bool
		MessagesPerSecond float64
		BurstSize         int
	}

	JWTSecret      string
	PermissionFile string

	MySQLDSN string

	Redis struct {
		Host     string
		Port     int
		Password string
	}

	Log struct {
		Development bool
	}
}

func loadConfig(cmd *cobra.Command) (*serveConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ROOMCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("path_prefix", "/ws")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.messages_per_second", 100)
	v.SetDefault("rate_limit.burst_size", 200)

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if cmd.Flags().Changed("addr") {
		addr, _ := cmd.Flags().GetString("addr")
		v.Set("addr", addr)
	}
	if cmd.Flags().Changed("workers") {
		workers, _ := cmd.Flags().GetInt("workers")
		v.Set("workers", workers)
	}

	cfg := &serveConfig{}
	cfg.Addr = v.GetString("addr")
	cfg.PathPrefix = v.GetString("path_prefix")
	cfg.Workers = v.GetInt("workers")
	cfg.MailboxSize = v.GetInt("mailbox_size")
	cfg.RateLimit.Enabled = v.GetBool("rate_limit.enabled")
	cfg.RateLimit.MessagesPerSecond = v.GetFloat64("rate_limit.messages_per_second")
	cfg.RateLimit.BurstSize = v.GetInt("rate_limit.burst_size")
	cfg.JWTSecret = v.GetString("jwt_secret")
	cfg.PermissionFile = v.GetString("permission_file")
	cfg.MySQLDSN = v.GetString("mysql.dsn")
	cfg.Redis.Host = v.GetString("redis.host")
	cfg.Redis.Port = v.GetInt("redis.port")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Log.Development = v.GetBool("log.development")

	return cfg, nil
}

func serve(parent context.Context, cfg *serveConfig) error {
	logger, err := newLogger(cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backing stores are optional; the substrate itself is in-memory.
	// When configured they are opened concurrently and a failure aborts
	// startup.
	g, bootCtx := errgroup.WithContext(ctx)
	if cfg.MySQLDSN != "" {
		g.Go(func() error {
			db, err := storage.OpenMySQL(bootCtx, storage.MySQLConfig{DSN: cfg.MySQLDSN}, logger)
			if err != nil {
				return fmt.Errorf("mysql: %w", err)
			}
			defer db.Close()
			<-ctx.Done()
			return nil
		})
	}
	if cfg.Redis.Host != "" {
		g.Go(func() error {
			rdb, err := storage.OpenRedis(bootCtx, storage.RedisConfig{
				Host:     cfg.Redis.Host,
				Port:     cfg.Redis.Port,
				Password: cfg.Redis.Password,
			}, logger)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			defer rdb.Close()
			<-ctx.Done()
			return nil
		})
	}

	var perms *permission.Group
	if cfg.PermissionFile != "" {
		perms, err = permission.Load(cfg.PermissionFile)
		if err != nil {
			return fmt.Errorf("permission file: %w", err)
		}
		logger.Info("permission groups loaded",
			zap.String("file", cfg.PermissionFile),
			zap.Int("roles", len(perms.Roles())))
	}

	rateLimit := ws.NoRateLimit()
	if cfg.RateLimit.Enabled {
		rateLimit = &ws.RateLimitConfig{
			Enabled:           true,
			MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:             cfg.RateLimit.BurstSize,
		}
	}

	relay := newRelayConsumer(cfg.JWTSecret, perms, logger)

	wsCfg := &ws.Config{
		Addr:            cfg.Addr,
		PathPrefix:      cfg.PathPrefix,
		Consumer:        relay,
		Workers:         cfg.Workers,
		MailboxSize:     cfg.MailboxSize,
		RateLimitConfig: rateLimit,
		CheckOrigin:     ws.AllOrigins(),
		Logger:          logger,
	}
	if cfg.JWTSecret != "" {
		wsCfg.TokenChecker = &auth.SecretChecker{Secret: cfg.JWTSecret}
	}

	srv := ws.New(wsCfg)
	relay.bind(srv)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("server started", zap.String("addr", cfg.Addr))

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
