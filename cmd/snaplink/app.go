package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/snaplink/snaplink/internal/cache"
	"github.com/snaplink/snaplink/internal/cleanup"
	"github.com/snaplink/snaplink/internal/clickstream"
	"github.com/snaplink/snaplink/internal/codegen"
	"github.com/snaplink/snaplink/internal/config"
	"github.com/snaplink/snaplink/internal/create"
	"github.com/snaplink/snaplink/internal/gateway"
	"github.com/snaplink/snaplink/internal/httpapi"
	"github.com/snaplink/snaplink/internal/lookup"
	"github.com/snaplink/snaplink/internal/stats"
	"github.com/snaplink/snaplink/internal/store"
)

// Service roles.
const (
	roleAll     = "all"
	roleCreate  = "create"
	roleLookup  = "lookup"
	roleStats   = "stats"
	roleGateway = "gateway"
)

// app owns the wired components of one process and their lifecycle. Which
// components exist depends on the role.
type app struct {
	cfg *config.EnvConfig

	mappings   *store.Store
	statsStore *stats.Store
	cacheLayer cache.Cache
	producer   clickstream.Producer
	batcher    *clickstream.Batcher
	consumer   *clickstream.Consumer
	cleaner    *cleanup.Worker
	aggregator *stats.Aggregator

	servers []*http.Server
}

func newApp(role string, cfg *config.EnvConfig) (*app, error) {
	a := &app{cfg: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch role {
	case roleAll:
		if err := a.wireCreate(ctx); err != nil {
			return nil, err
		}
		if err := a.wireLookup(ctx); err != nil {
			return nil, err
		}
		if err := a.wireStats(ctx); err != nil {
			return nil, err
		}
		if err := a.wireGateway(); err != nil {
			return nil, err
		}
	case roleCreate:
		if err := a.wireCreate(ctx); err != nil {
			return nil, err
		}
	case roleLookup:
		if err := a.wireLookup(ctx); err != nil {
			return nil, err
		}
	case roleStats:
		if err := a.wireStats(ctx); err != nil {
			return nil, err
		}
	case roleGateway:
		if err := a.wireGateway(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown service role %q", role)
	}
	return a, nil
}

// openMappings opens the shared mapping store once per process.
func (a *app) openMappings(ctx context.Context) error {
	if a.mappings != nil {
		return nil
	}
	if a.cfg.PrimaryDSN == "" {
		return errors.New("SNAPLINK_DB_PRIMARY_DSN is required for this role")
	}
	s, err := store.Open(ctx, store.Config{
		PrimaryURL:      a.cfg.PrimaryDSN,
		ReplicaURLs:     a.cfg.ReplicaDSNs,
		MaxConns:        int32(a.cfg.DBMaxConns),
		MaxConnLifetime: a.cfg.DBMaxConnLifetime,
		Health: store.HealthMonitorConfig{
			Interval:    a.cfg.HealthProbeInterval,
			Timeout:     a.cfg.HealthProbeTimeout,
			MaxLagBytes: a.cfg.HealthMaxLagBytes,
			StaleAge:    a.cfg.HealthStaleAge,
		},
	})
	if err != nil {
		return err
	}
	if err := s.EnsureSchema(ctx, time.Now().UTC(), a.cfg.PartitionLookahead); err != nil {
		s.Close()
		return err
	}
	if err := s.StartPartitionMaintenance(a.cfg.PartitionLookahead); err != nil {
		s.Close()
		return err
	}
	a.mappings = s
	return nil
}

func (a *app) wireCreate(ctx context.Context) error {
	if err := a.openMappings(ctx); err != nil {
		return err
	}

	var generator codegen.Generator
	switch a.cfg.GeneratorKind {
	case config.GeneratorSnowflake:
		nodeID, err := codegen.NodeIDFromHostname()
		if err != nil {
			return fmt.Errorf("derive snowflake node id: %w", err)
		}
		generator = codegen.NewSnowflakeGenerator(nodeID)
	default:
		generator = codegen.NewRandomGenerator(codegen.RandomConfig{
			Exists:   a.mappings.ExistsShort,
			MaxValue: a.cfg.GeneratorMaxValue,
			Attempts: a.cfg.GeneratorAttempts,
		})
	}

	svc := create.NewService(a.mappings, generator, a.cfg.DefaultExpiry)
	mux := http.NewServeMux()
	create.NewHandler(svc).Register(mux)
	mux.HandleFunc("GET /health", httpapi.HealthHandler("create", map[string]httpapi.HealthChecker{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return a.mappings.Ping(ctx)
		},
	}))
	a.addServer(a.cfg.CreatePort, mux)

	if a.cfg.CleanupEnabled {
		cleaner, err := cleanup.NewWorker(a.mappings, cleanup.Config{
			Schedule:        a.cfg.CleanupSchedule,
			RetentionMonths: a.cfg.CleanupRetentionMonths,
			BatchSize:       a.cfg.CleanupBatchSize,
			BatchPause:      a.cfg.CleanupBatchPause,
		})
		if err != nil {
			return err
		}
		a.cleaner = cleaner
	}
	return nil
}

func (a *app) wireLookup(ctx context.Context) error {
	if err := a.openMappings(ctx); err != nil {
		return err
	}

	policy := cache.TTLPolicy{
		Cold:          a.cfg.CacheColdTTL,
		Warm:          a.cfg.CacheWarmTTL,
		Hot:           a.cfg.CacheHotTTL,
		WarmThreshold: a.cfg.CacheWarmThreshold,
		HotThreshold:  a.cfg.CacheHotThreshold,
	}
	if a.cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cache.RedisConfig{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
			Policy:   policy,
		})
		if err := rc.Ping(ctx); err != nil {
			return err
		}
		a.cacheLayer = rc
	} else {
		lc, err := cache.NewLocalCache(a.cfg.CacheLocalEntries, policy)
		if err != nil {
			return err
		}
		a.cacheLayer = lc
		log.Println("[app] no redis configured, using in-process cache")
	}

	if len(a.cfg.KafkaBrokers) > 0 {
		p, err := clickstream.NewKafkaProducer(clickstream.KafkaProducerConfig{
			Brokers: a.cfg.KafkaBrokers,
			Topic:   a.cfg.KafkaTopic,
		})
		if err != nil {
			return err
		}
		a.producer = p
	} else {
		a.producer = clickstream.NopProducer{}
		log.Println("[app] no kafka brokers configured, click events disabled")
	}

	var locator clickstream.Locator = clickstream.SyntheticLocator{}
	if a.cfg.GeoDBPath != "" {
		l, err := clickstream.OpenMaxMindLocator(a.cfg.GeoDBPath)
		if err != nil {
			return err
		}
		locator = l
	}

	svc := lookup.NewService(a.mappings, a.cacheLayer, a.producer, locator)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", httpapi.HealthHandler("lookup", map[string]httpapi.HealthChecker{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return a.mappings.Ping(ctx)
		},
	}))
	lookup.NewHandler(svc).Register(mux)
	a.addServer(a.cfg.LookupPort, mux)
	return nil
}

func (a *app) wireStats(ctx context.Context) error {
	if a.cfg.StatsDSN == "" {
		return errors.New("SNAPLINK_STATS_DSN is required for this role")
	}
	if err := stats.Migrate(a.cfg.StatsDSN); err != nil {
		return err
	}
	st, err := stats.Open(ctx, a.cfg.StatsDSN)
	if err != nil {
		return err
	}
	a.statsStore = st

	if len(a.cfg.KafkaBrokers) > 0 {
		a.batcher = clickstream.NewBatcher(st, a.cfg.BatcherSize, a.cfg.BatcherInterval)
		consumer, err := clickstream.NewConsumer(clickstream.ConsumerConfig{
			Brokers: a.cfg.KafkaBrokers,
			Topic:   a.cfg.KafkaTopic,
			Group:   a.cfg.ConsumerGroup,
			Workers: a.cfg.ConsumerWorkers,
			MaxPoll: a.cfg.ConsumerMaxPoll,
		}, a.batcher)
		if err != nil {
			return err
		}
		a.consumer = consumer
	} else {
		log.Println("[app] no kafka brokers configured, stats ingest disabled")
	}

	loc, err := time.LoadLocation(a.cfg.AggregatorTimeZone)
	if err != nil {
		return fmt.Errorf("load aggregator time zone: %w", err)
	}
	if a.cfg.AggregatorEnabled {
		agg, err := stats.NewAggregator(st, stats.AggregatorConfig{
			Interval: a.cfg.AggregatorInterval,
			Location: loc,
		})
		if err != nil {
			return err
		}
		a.aggregator = agg
	}

	mux := http.NewServeMux()
	stats.NewHandler(st, loc).Register(mux)
	mux.HandleFunc("GET /health", httpapi.HealthHandler("stats", map[string]httpapi.HealthChecker{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return st.Ping(ctx)
		},
	}))
	a.addServer(a.cfg.StatsPort, mux)
	return nil
}

func (a *app) wireGateway() error {
	createURL, lookupURL, statsURL := a.cfg.BackendURLs()
	gw, err := gateway.New(gateway.Config{
		CreateURL: createURL,
		LookupURL: lookupURL,
		StatsURL:  statsURL,
	})
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	gw.Register(mux)
	a.addServer(a.cfg.GatewayPort, mux)
	return nil
}

func (a *app) addServer(port int, handler http.Handler) {
	a.servers = append(a.servers, &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.ListenAddress, port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	})
}

// Start launches background workers and HTTP servers. Server failures are
// reported on the returned channel so the caller can still run Shutdown.
func (a *app) Start() <-chan error {
	if a.cleaner != nil {
		a.cleaner.Start()
	}
	if a.aggregator != nil {
		a.aggregator.Start()
	}
	if a.consumer != nil {
		a.consumer.Start()
	}
	errCh := make(chan error, len(a.servers)+1)
	for _, srv := range a.servers {
		go func(srv *http.Server) {
			log.Printf("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}
	return errCh
}

// Shutdown stops intake first, then drains and releases everything.
func (a *app) Shutdown(ctx context.Context) {
	for _, srv := range a.servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("server shutdown %s: %v", srv.Addr, err)
		}
	}
	if a.consumer != nil {
		a.consumer.Stop()
	}
	if a.batcher != nil {
		a.batcher.Stop()
	}
	if a.producer != nil {
		a.producer.Close()
	}
	if a.aggregator != nil {
		a.aggregator.Stop()
	}
	if a.cleaner != nil {
		a.cleaner.Stop()
	}
	if a.cacheLayer != nil {
		if err := a.cacheLayer.Close(); err != nil {
			log.Printf("cache close: %v", err)
		}
	}
	if a.statsStore != nil {
		a.statsStore.Close()
	}
	if a.mappings != nil {
		a.mappings.Close()
	}
}
