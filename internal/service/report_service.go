package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"kmc-indicators/common/database"
	"kmc-indicators/common/mqtt"
	rediscommon "kmc-indicators/common/redis"
	"kmc-indicators/internal/aggregator"
	"kmc-indicators/internal/config"
	"kmc-indicators/internal/consumer"
	"kmc-indicators/internal/httpapi"
	"kmc-indicators/internal/store"
)

// ReportService wires the record store, the engine, the HTTP API and the
// optional MQTT trigger.
type ReportService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	engine      *aggregator.Engine
	consumer    *consumer.TriggerConsumer
	server      *http.Server
	listener    net.Listener
}

// NewReportService connects to every configured backend.
func NewReportService(cfg *config.Config, logger *zap.Logger) (*ReportService, error) {
	s := &ReportService{config: cfg, logger: logger}

	st, err := s.openStore(context.Background())
	if err != nil {
		s.closeAll()
		return nil, err
	}

	if cfg.Report.CacheEnabled || cfg.MQTT.Enabled {
		s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.WaitReady(context.Background(), s.redisClient, cfg.Redis.ConnectAttempts, time.Second); err != nil {
			s.closeAll()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	var kv aggregator.KVStore
	if cfg.Report.CacheEnabled {
		kv = aggregator.NewRedisKVStore(s.redisClient)
	}
	s.engine = aggregator.NewEngine(st, cfg.Settings, logger,
		aggregator.WithCache(aggregator.NewCacheManager(kv, cfg.Report.CacheTTL, logger)),
		aggregator.WithMaxParallel(cfg.Report.MaxParallel),
	)

	if cfg.MQTT.Enabled {
		s.mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.closeAll()
			return nil, err
		}
		notifier := NewReportNotifier(s.redisClient, cfg.Report.Stream, cfg.Report.StreamMaxLen, logger)
		s.consumer = consumer.NewTriggerConsumer(s.mqttClient, s.engine, notifier, cfg.MQTT.Topic, cfg.MQTT.QoS, logger)
	}

	router := httpapi.NewRouter(logger)
	router.RegisterReportRoutes(httpapi.NewReportHandler(s.engine, logger))
	s.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *ReportService) openStore(ctx context.Context) (store.Store, error) {
	switch s.config.Store.Backend {
	case config.BackendPostgres:
		db, err := database.NewPostgresDB(ctx, &s.config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		if err := database.CheckTable(ctx, db, store.DocumentsTable); err != nil {
			return nil, err
		}
		return store.NewPostgresStore(db, s.logger), nil
	case config.BackendREST:
		rc := s.config.REST
		return store.NewRestStore(rc.BaseURL, rc.Token, rc.Timeout, rc.Retries, s.logger), nil
	case config.BackendFixtures:
		st, err := store.LoadFixtures(s.config.Store.FixtureDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load fixtures: %w", err)
		}
		s.logger.Info("Loaded fixtures",
			zap.String("dir", s.config.Store.FixtureDir),
			zap.Int("documents", st.Len()),
		)
		return st, nil
	}
	return nil, fmt.Errorf("unsupported store backend: %s", s.config.Store.Backend)
}

// Engine exposes the report engine.
func (s *ReportService) Engine() *aggregator.Engine { return s.engine }

// Addr is the bound HTTP address once Start has listened.
func (s *ReportService) Addr() string {
	if s.listener == nil {
		return s.config.HTTP.Addr
	}
	return s.listener.Addr().String()
}

// Listen binds the HTTP address. Start calls it when it has not been called.
func (s *ReportService) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.config.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.HTTP.Addr, err)
	}
	s.listener = ln
	return nil
}

// Start serves until ctx is done or the server fails.
func (s *ReportService) Start(ctx context.Context) error {
	s.logger.Info("Starting kmc-indicators service",
		zap.String("store_backend", s.config.Store.Backend),
		zap.Bool("cache_enabled", s.config.Report.CacheEnabled),
		zap.Bool("mqtt_enabled", s.config.MQTT.Enabled),
	)
	if err := s.Listen(); err != nil {
		return err
	}
	if s.consumer != nil {
		if err := s.consumer.Start(ctx); err != nil {
			return err
		}
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.Addr()))
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errChan:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}
}

// Stop shuts the server down and releases connections.
func (s *ReportService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping kmc-indicators service")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Error shutting down http server", zap.Error(err))
	}
	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("Error stopping trigger consumer", zap.Error(err))
		}
	}
	s.closeAll()

	s.logger.Info("kmc-indicators service stopped")
	return nil
}

func (s *ReportService) closeAll() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing redis connection", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}
}
