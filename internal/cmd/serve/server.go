package serve

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/cmd/datastore"
	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/monitoring"
	"github.com/chirino/chat-archive/internal/plugin/cache/noop"
	routesystem "github.com/chirino/chat-archive/internal/plugin/route/system"
	registrycache "github.com/chirino/chat-archive/internal/registry/cache"
	registrymigrate "github.com/chirino/chat-archive/internal/registry/migrate"
	registryroute "github.com/chirino/chat-archive/internal/registry/route"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/gin-gonic/gin"

	// Archive routes register themselves with the route registry.
	_ "github.com/chirino/chat-archive/internal/plugin/route/collections"
	_ "github.com/chirino/chat-archive/internal/plugin/route/messages"
	_ "github.com/chirino/chat-archive/internal/plugin/route/search"
	_ "github.com/chirino/chat-archive/internal/plugin/route/upload"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.ArchiveStore
	Cache           registrycache.Cache
	Archive         *service.Archive
	Router          *gin.Engine
	Running         *RunningServers
	closeManagement func(context.Context) error
	stopBackground  context.CancelFunc
}

// Shutdown stops accepting requests, drains in-flight ones, then releases the
// store and cache.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	s.stopBackground()
	var errs []error
	if s.closeManagement != nil {
		errs = append(errs, s.closeManagement(ctx))
	}
	errs = append(errs, s.Running.Close(ctx))
	errs = append(errs, s.Store.Close(ctx))
	errs = append(errs, s.Cache.Close())
	return errors.Join(errs...)
}

// loadCache returns the configured cache, or a disabled one if it cannot be
// created. The archive keeps working from the store alone.
func loadCache(ctx context.Context, cfg *config.Config) registrycache.Cache {
	loader, err := registrycache.Select(cfg.CacheType)
	if err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
		return noop.New()
	}
	c, err := loader(ctx)
	if err != nil {
		log.Warn("Failed to initialize cache, continuing without", "cache", cfg.CacheType, "err", err)
		return noop.New()
	}
	return c
}

// Seams for tests.
var (
	openStore = datastore.Open
	openCache = loadCache
)

// StartServer initializes all subsystems and starts HTTP on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chat archive",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
	)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.CacheBudgeted() && cfg.CacheType != "none" {
		log.Info("Cache size is bounded by the cache server, --cache-max-bytes is ignored", "cache", cfg.CacheType)
	}

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := monitoring.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	monitoring.InitMetrics(metricsLabels)

	ctx = config.WithContext(ctx, cfg)
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cache := openCache(ctx, cfg)
	archive := service.NewArchive(store, cache, cfg.SearchConcurrency)

	var closeManagement func(context.Context) error
	// fail releases everything acquired so far.
	fail := func(err error) (*Server, error) {
		if closeManagement != nil {
			_ = closeManagement(context.WithoutCancel(ctx))
		}
		if cerr := store.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn("Closing store failed", "err", cerr)
		}
		if cerr := cache.Close(); cerr != nil {
			log.Warn("Closing cache failed", "err", cerr)
		}
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(monitoring.AccessLogMiddleware())
	} else {
		router.Use(monitoring.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(monitoring.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(maxJSONBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	routeCtx := service.WithArchive(ctx, archive)
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(routeCtx, router); err != nil {
			return fail(fmt.Errorf("failed to load routes: %w", err))
		}
	}

	// Mount management route plugins. If a dedicated management port is configured,
	// run them on a bare gin engine served by the management server. Otherwise,
	// mount them on the main router.
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(monitoring.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(routeCtx, mgmtRouter); err != nil {
				return fail(fmt.Errorf("failed to load management routes: %w", err))
			}
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		if !mgmtCfg.EnablePlainText && !mgmtCfg.EnableTLS {
			mgmtCfg.EnablePlainText = true
		}
		mgmt, err := StartListener("management", mgmtCfg, mgmtRouter)
		if err != nil {
			return fail(fmt.Errorf("failed to start management server: %w", err))
		}
		log.Info("Management server listening", "addr", mgmt.Addr)
		closeManagement = mgmt.Close
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(routeCtx, router); err != nil {
				return fail(fmt.Errorf("failed to load management routes: %w", err))
			}
		}
	}

	running, err := StartListener("main", cfg.Listener, router)
	if err != nil {
		return fail(err)
	}

	// Background work outlives requests but not the server.
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	backfill := service.NewSanitizeBackfill(store, cfg.BackfillBatchSize, cfg.BackfillInterval)
	go backfill.Start(bgCtx)

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.WatchStore(store)
	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Cache:           cache,
		Archive:         archive,
		Router:          router,
		Running:         running,
		closeManagement: closeManagement,
		stopBackground:  stopBackground,
	}, nil
}
