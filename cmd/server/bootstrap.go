package main

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/packcycle/packcycle/internal/api"
	"github.com/packcycle/packcycle/internal/app"
	"github.com/packcycle/packcycle/internal/app/maintenance"
	"github.com/packcycle/packcycle/internal/auth"
	"github.com/packcycle/packcycle/internal/cache"
	"github.com/packcycle/packcycle/internal/database"
	"github.com/packcycle/packcycle/internal/realtime"
	"github.com/packcycle/packcycle/internal/services"
	"github.com/packcycle/packcycle/pkg/logger"
)

// runtimeStack bundles the long-lived pieces used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Store   cache.Store
	Hub     *realtime.Hub
	Sweeper *maintenance.Sweeper
	Router  *gin.Engine

	unbindHub func()
	redis     *cache.RedisStore
}

// bootstrapRuntime initialises the database, cache, services and router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Store = dbStore

	if cfg.Cache.Redis.Enabled {
		redis, redisErr := cache.NewRedisStore(cache.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Username: cfg.Cache.Redis.Username,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Timeout:  cfg.Cache.Redis.Timeout,
		})
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to the database cache", zap.Error(redisErr))
		} else {
			stack.redis = redis
			stack.Store = redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	events := services.NewDispatcher()

	timelines, err := services.NewTimelineService(stack.DB, stack.Store)
	if err != nil {
		return nil, fmt.Errorf("initialise timeline service: %w", err)
	}
	users, err := services.NewUserService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}
	packages, err := services.NewPackageService(stack.DB, timelines, stack.Store, events)
	if err != nil {
		return nil, fmt.Errorf("initialise package service: %w", err)
	}
	refresh, err := services.NewRefreshService(packages, stack.Store, events,
		services.WithHistoryTTL(cfg.Refresh.HistoryTTL),
		services.WithThrottleWindows(services.ThrottleWindows{
			Navigation: cfg.Refresh.NavigationWindow,
			User:       cfg.Refresh.UserWindow,
			Resume:     cfg.Refresh.ResumeWindow,
		}),
		services.WithUpcomingWindow(cfg.Refresh.UpcomingWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise refresh service: %w", err)
	}

	stack.Hub = realtime.NewHub()
	stack.unbindHub = stack.Hub.Bind(events)

	if cfg.Maintenance.Enabled {
		stack.Sweeper = maintenance.NewSweeper(dbStore, users, refresh,
			maintenance.WithCacheSchedule(cfg.Maintenance.CacheSchedule),
			maintenance.WithOverdueSchedule(cfg.Maintenance.OverdueSchedule),
		)
		if err := stack.Sweeper.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(stack.DB, jwtService, cfg, api.Services{
		Store:     stack.Store,
		Events:    events,
		Hub:       stack.Hub,
		Timelines: timelines,
		Users:     users,
		Packages:  packages,
		Refresh:   refresh,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Sweeper != nil {
		<-s.Sweeper.Stop().Done()
	}
	if s.unbindHub != nil {
		s.unbindHub()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}
	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
