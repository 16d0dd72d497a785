package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/proliferate/automation-core/internal/actions"
	"github.com/proliferate/automation-core/internal/actions/adapters"
	"github.com/proliferate/automation-core/internal/billing"
	"github.com/proliferate/automation-core/internal/config"
	"github.com/proliferate/automation-core/internal/database"
	"github.com/proliferate/automation-core/internal/gatewayrpc"
	"github.com/proliferate/automation-core/internal/gc"
	"github.com/proliferate/automation-core/internal/httpapi"
	"github.com/proliferate/automation-core/internal/inboxworker"
	"github.com/proliferate/automation-core/internal/ingress"
	"github.com/proliferate/automation-core/internal/middleware"
	"github.com/proliferate/automation-core/internal/modalclient"
	"github.com/proliferate/automation-core/internal/observability"
	"github.com/proliferate/automation-core/internal/queue"
	"github.com/proliferate/automation-core/internal/scheduler"
	"github.com/proliferate/automation-core/internal/sessions"
	"github.com/proliferate/automation-core/internal/snapshotbuilder"
	"github.com/proliferate/automation-core/internal/triggers"
	"github.com/proliferate/automation-core/internal/wakebus"
)

func main() {
	cfg := config.Get()
	port := cfg.GetPort()

	repo, err := database.NewSupabaseClient()
	if err != nil {
		log.Fatalf("failed to initialize Supabase client: %v", err)
	}

	metrics := observability.NewMetrics()

	// =========================================================================
	// Redis — wake bus cross-process transport + billing gate shadow-balance
	// cache, graceful fallback to local-only delivery when disabled.
	// =========================================================================
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			slog.Warn("redis ping failed, gate will read shadow balance from Postgres and the wake bus will stay local-only", "addr", cfg.Redis.Addr, "error", err)
			redisClient = nil
		} else {
			slog.Info("connected to redis", "addr", cfg.Redis.Addr)
		}
	} else {
		slog.Info("redis disabled, wake bus stays local-only and gate reads shadow balance from Postgres")
	}

	// =========================================================================
	// Job queue — Cloud Tasks in production, in-memory fallback otherwise.
	// =========================================================================
	memQueue := queue.NewMemoryQueue(cfg.Webhook.WorkerCount, 5)
	var q queue.Queue = memQueue
	if cfg.CloudTasks.Enabled {
		ctQueue, err := queue.NewCloudTasksQueue(cfg.CloudTasks.ProjectID, cfg.CloudTasks.LocationID, cfg.CloudTasks.QueueID, cfg.Gateway.BaseURL+"/internal/tasks", memQueue)
		if err != nil {
			slog.Warn("cloud tasks queue init failed, falling back to in-memory queue", "error", err)
		} else {
			q = ctQueue
			slog.Info("cloud tasks queue wired", "project", cfg.CloudTasks.ProjectID, "queue", cfg.CloudTasks.QueueID)
		}
	}

	// =========================================================================
	// Trigger Registry, Gateway client, Session Gate, Session Registry.
	// =========================================================================
	triggerRegistry := triggers.NewRegistry()
	if err := triggers.RegisterDefaults(triggerRegistry); err != nil {
		log.Fatalf("failed to register default trigger capabilities: %v", err)
	}

	gateway := gatewayrpc.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.AuthToken)
	gate := billing.NewGate(repo, redisClient, cfg.Billing.Enabled, int64(cfg.Billing.MinCreditsToStart)).WithMetrics(metrics)
	sessionRegistry := sessions.NewRegistry(repo)

	// =========================================================================
	// Webhook Ingress → Inbox Worker.
	// =========================================================================
	ingressServer := ingress.NewServer(repo, q, triggerRegistry, ingress.Secrets{
		NangoSecretKey:         cfg.Webhook.NangoSecretKey,
		GitHubAppWebhookSecret: cfg.Webhook.GitHubAppWebhookSecret,
	}).WithMetrics(metrics)

	inboxWorker := inboxworker.NewWorker(repo, triggerRegistry, gateway, gate, sessionRegistry).WithMetrics(metrics)
	inboxWorker.Register(q)

	// =========================================================================
	// Scheduler + Cron Worker (scheduled / polling triggers).
	// =========================================================================
	cronWorker := scheduler.NewCronWorker(repo, gateway, gate, sessionRegistry).WithMetrics(metrics)
	sched := scheduler.NewScheduler(repo, cronWorker.Fire)
	if cfg.Scheduler.ReconcileOnStart {
		if err := sched.Start(context.Background()); err != nil {
			slog.Error("scheduler start/reconcile failed", "error", err)
		}
	}

	// =========================================================================
	// Action Engine — adapters proxy approved invocations through Nango.
	// =========================================================================
	nangoAdapter := adapters.NewNangoProxyAdapter(cfg.Nango.BaseURL, cfg.Nango.SecretKey)
	actionEngine := actions.NewEngine(repo, actions.AdapterRegistry{
		"linear":  nangoAdapter,
		"github":  nangoAdapter,
		"slack":   nangoAdapter,
		"posthog": nangoAdapter,
	}).WithMetrics(metrics)

	// =========================================================================
	// Wake Bus — local fan-out, optionally layered over Redis Pub/Sub.
	// =========================================================================
	bus := wakebus.NewBus()
	if redisClient != nil {
		transport := wakebus.NewRedisTransport(redisClient)
		if err := bus.WithTransport(context.Background(), transport); err != nil {
			slog.Warn("wake bus redis transport failed, staying local-only", "error", err)
		}
	}
	subscriber := wakebus.NewSessionSubscriber(bus, repo, map[string]wakebus.WakeableClient{
		database.ClientTypeSlack: wakebus.NewSlackClient(),
		database.ClientTypeCLI:   wakebus.NewCLIClient(),
	})
	subscriber.Start()
	defer subscriber.Stop()

	// =========================================================================
	// Configuration Snapshot Builder + Inbox GC.
	// =========================================================================
	modalProvider := modalclient.NewClient(cfg.Sandbox.ModalBaseURL, cfg.Sandbox.ModalAuthToken)
	resolveToken := func(ctx context.Context, repoURL string) (string, error) {
		// Public repos need no token; private-repo GitHub App installation
		// token resolution is a Gateway-side concern (spec §1 out-of-scope
		// collaborator), not this core's.
		return "", nil
	}
	snapshotBuilder := snapshotbuilder.NewBuilder(repo, modalProvider, resolveToken)
	snapshotBuilder.Register(q)
	q.Start(context.Background())

	sweeper := gc.NewSweeper(repo, time.Duration(cfg.Inbox.GCIntervalMin)*time.Minute, time.Duration(cfg.Inbox.RetentionDays)*24*time.Hour).WithMetrics(metrics)
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	// =========================================================================
	// HTTP surface: public webhook ingress + service-to-service actions API.
	// =========================================================================
	router := ingressServer.NewRouter()

	actionsAPI := httpapi.NewServer(actionEngine).WithQueue(q)

	actionsRouter := mux.NewRouter()
	actionsRouter.Use(middleware.RequireServiceToken(cfg.Security.ServiceToServiceAuthToken))
	actionsRouter.Use(middleware.WithOrganizationContext)
	actionsRouter.Use(middleware.RequireInteractiveCaller)
	actionsAPI.Mount(actionsRouter)
	router.PathPrefix("/actions").Handler(actionsRouter)

	// Configuration force-rebuild has no interactive caller to assert: it's
	// driven by the out-of-scope system that creates Configurations, so it
	// only needs the service-token + tenant checks, not RequireInteractiveCaller.
	configRouter := mux.NewRouter()
	configRouter.Use(middleware.RequireServiceToken(cfg.Security.ServiceToServiceAuthToken))
	configRouter.Use(middleware.WithOrganizationContext)
	actionsAPI.MountConfigurations(configRouter)
	router.PathPrefix("/configurations").Handler(configRouter)

	if cfg.Metrics.Enabled {
		go func() {
			slog.Info("metrics server starting", "addr", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, observability.Handler()); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, draining in-flight work")

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		sched.Stop(ctx)
		if err := q.Shutdown(ctx); err != nil {
			slog.Error("queue shutdown error", "error", err)
		}
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	}()

	slog.Info("automation core starting", "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed to start: %v", err)
	}
	slog.Info("server stopped")
}
