package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/openwearlab/studygate/pkg/accounts"
	"github.com/openwearlab/studygate/pkg/config"
	"github.com/openwearlab/studygate/pkg/delegated"
	"github.com/openwearlab/studygate/pkg/httputil"
	"github.com/openwearlab/studygate/pkg/middleware"
	"github.com/openwearlab/studygate/pkg/observability"
	"github.com/openwearlab/studygate/pkg/permissions"
	"github.com/openwearlab/studygate/pkg/providers"
	"github.com/openwearlab/studygate/pkg/session"
)

// effectivePermissionsHandler reports the caller's resolved permission
// set for a study, for support and debugging.
func effectivePermissionsHandler(resolver *permissions.Resolver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFrom(r.Context())
		if !ok {
			httputil.WriteInternalError(w)
			return
		}
		studyID, err := strconv.ParseInt(mux.Vars(r)["studyID"], 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "malformed study identifier")
			return
		}
		set, err := resolver.ResolveEffectivePermissions(r.Context(), principal, "researcher-app", &studyID)
		if err != nil {
			httputil.WriteInternalError(w)
			return
		}
		httputil.WriteSuccess(w, map[string]interface{}{
			"subject":     principal.Subject(),
			"permissions": set.List(),
		})
	})
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	requestLog := logrus.New()
	requestLog.SetFormatter(&logrus.JSONFormatter{})

	// Postgres backs accounts, permissions and the revocation list.
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	accountStore := accounts.NewSQLStore(db)
	permissionStore := permissions.NewSQLStore(db)
	resolver := permissions.NewResolver(permissionStore, metrics)

	sessions, err := session.NewService(
		[]byte(cfg.Session.Secret),
		cfg.Session.TTL,
		accountStore,
		session.NewRedisRevocationList(redisClient, cfg.Session.TTL),
		metrics,
	)
	if err != nil {
		log.Fatalf("Failed to build session service: %v", err)
	}

	// Expired blocklist entries in Postgres are swept on a schedule; the
	// Redis entries lapse on their own.
	pruner := session.NewPruner(session.NewSQLRevocationList(db), cfg.Session.TTL, logger)
	if err := pruner.Start(cfg.Session.PruneSchedule); err != nil {
		log.Fatalf("Failed to schedule revocation pruning: %v", err)
	}
	defer pruner.Stop()

	verifierCache, err := delegated.NewVerifierCache(8)
	if err != nil {
		log.Fatalf("Failed to build verifier cache: %v", err)
	}
	flows := delegated.NewRedisFlowStore(redisClient)

	participant := delegated.NewController(delegated.Config{
		InstanceName: "participant",
		Issuer:       cfg.ParticipantOIDC.Issuer,
		ClientID:     cfg.ParticipantOIDC.ClientID,
		ClientSecret: cfg.ParticipantOIDC.ClientSecret,
		RedirectURL:  cfg.ParticipantOIDC.RedirectURL,
		Scopes:       cfg.ParticipantOIDC.Scopes,
	}, verifierCache, flows, &delegated.ParticipantMapper{Store: accountStore}, metrics, logger)

	researcher := delegated.NewController(delegated.Config{
		InstanceName: "researcher",
		Issuer:       cfg.ResearcherOIDC.Issuer,
		ClientID:     cfg.ResearcherOIDC.ClientID,
		ClientSecret: cfg.ResearcherOIDC.ClientSecret,
		RedirectURL:  cfg.ResearcherOIDC.RedirectURL,
		Scopes:       cfg.ResearcherOIDC.Scopes,
	}, verifierCache, flows, &delegated.ResearcherMapper{Store: accountStore}, metrics, logger)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Providers.AWSRegion))
	if err != nil {
		log.Fatalf("Failed to load AWS configuration: %v", err)
	}
	tokenManager := providers.NewManager(
		providers.NewSecretsManagerStore(secretsmanager.NewFromConfig(awsCfg)),
		cfg.Providers.SecretPrefix,
	)
	apiNames := make([]string, 0, len(cfg.Providers.Endpoints))
	for _, endpoint := range cfg.Providers.Endpoints {
		apiNames = append(apiNames, endpoint.Name)
	}

	authn := &middleware.Authentication{
		Sessions:     sessions,
		Controllers:  []*delegated.Controller{researcher, participant},
		CookieDomain: cfg.Session.CookieDomain,
		Metrics:      metrics,
		Logger:       logger,
	}
	csrf := &middleware.Csrf{Sessions: sessions, Metrics: metrics}

	router := mux.NewRouter()
	router.Use(httputil.RequestID)

	// Auth surfaces stay outside the authentication middleware.
	session.NewHandlers(sessions, accountStore, requestLog, cfg.Session.CookieDomain).RegisterRoutes(router)
	delegated.NewHandlers(participant, requestLog, cfg.Session.CookieDomain, cfg.Session.FrontEndURL).RegisterRoutes(router)
	delegated.NewHandlers(researcher, requestLog, cfg.Session.CookieDomain, cfg.Session.FrontEndURL).RegisterRoutes(router)

	protected := router.PathPrefix("/").Subrouter()
	protected.Use(authn.Handler)
	protected.Use(csrf.Handler)
	providers.NewHandlers(tokenManager, apiNames, requestLog).RegisterRoutes(protected)

	authz := &middleware.Authorization{Resolver: resolver}
	protected.Handle("/studies/{studyID}/permissions",
		authz.RequireStudy("View", "permissions", "researcher-app", "studyID")(
			effectivePermissionsHandler(resolver),
		)).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes.
	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health/live", health.Liveness)
	healthMux.HandleFunc("/health/ready", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Health server failed: %v", err)
		}
	}()

	go func() {
		logger.WithField("addr", server.Addr).Info("studygate listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	if err := healthServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}
}
