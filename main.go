package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/Financial-Times/go-logger"
	"github.com/gorilla/mux"
	cli "github.com/jawher/mow.cli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	registryFile       = "file"
	registryKubernetes = "kubernetes"
)

func main() {
	app := cli.App("classification-orchestrator", "Resolves intent, named entities and sentiment for inbound messages from cache replicas and classifier services.")

	appName := app.String(cli.StringOpt{
		Name:   "app-name",
		Value:  "classification-orchestrator",
		Desc:   "Application name used in logs",
		EnvVar: "APP_NAME",
	})

	environment := app.String(cli.StringOpt{
		Name:   "environment",
		Value:  "local",
		Desc:   "Environment tag (e.g. local, pre-prod, prod-uk)",
		EnvVar: "ENVIRONMENT",
	})

	port := app.Int(cli.IntOpt{
		Name:   "port",
		Value:  8080,
		Desc:   "Port to listen on",
		EnvVar: "APP_PORT",
	})

	pathPrefix := app.String(cli.StringOpt{
		Name:   "pathPrefix",
		Value:  "",
		Desc:   "Path prefix for all endpoints",
		EnvVar: "PATH_PREFIX",
	})

	logLevel := app.String(cli.StringOpt{
		Name:   "log-level",
		Value:  "info",
		Desc:   "Logging level (debug, info, warn, error)",
		EnvVar: "LOG_LEVEL",
	})

	registry := app.String(cli.StringOpt{
		Name:   "registry",
		Value:  registryFile,
		Desc:   "Where endpoints are discovered from: file or kubernetes",
		EnvVar: "REGISTRY",
	})

	registryPath := app.String(cli.StringOpt{
		Name:   "registry-file",
		Value:  "services.yaml",
		Desc:   "Registry file mapping service names to {general: {host, port}, security: {secret_key}}",
		EnvVar: "REGISTRY_FILE",
	})

	namespace := app.String(cli.StringOpt{
		Name:   "namespace",
		Value:  "default",
		Desc:   "Kubernetes namespace of the cache and classifier services",
		EnvVar: "NAMESPACE",
	})

	cacheServices := app.String(cli.StringOpt{
		Name:   "cache-services",
		Value:  "cache-service-1,cache-service-2",
		Desc:   "Comma separated cache replica names, in rotation order",
		EnvVar: "CACHE_SERVICES",
	})

	classifierServices := app.String(cli.StringOpt{
		Name:   "classifier-services",
		Value:  "ner=named-entity-recognition-sidecar-service,sentiment=sentiment-sidecar-service,intent=intent-sidecar-service",
		Desc:   "Comma separated kind=service pairs for the classifier services",
		EnvVar: "CLASSIFIER_SERVICES",
	})

	dispatchTimeout := app.String(cli.StringOpt{
		Name:   "dispatch-timeout",
		Value:  "5s",
		Desc:   "Longest wait for all classifiers of one message",
		EnvVar: "DISPATCH_TIMEOUT",
	})

	backendTimeout := app.String(cli.StringOpt{
		Name:   "backend-timeout",
		Value:  "4s",
		Desc:   "Timeout of a single cache or classifier request",
		EnvVar: "BACKEND_TIMEOUT",
	})

	circuitBreaker := app.Bool(cli.BoolOpt{
		Name:   "circuit-breaker",
		Value:  true,
		Desc:   "Put a circuit breaker in front of every cache and classifier",
		EnvVar: "CIRCUIT_BREAKER",
	})

	secretKey := app.String(cli.StringOpt{
		Name:   "secret-key",
		Value:  "",
		Desc:   "Secret used to verify the Token header of inbound requests; verification is off when empty",
		EnvVar: "SECRET_KEY",
	})

	app.Action = func() {
		log.InitLogger(*appName, *logLevel)

		cfg := appConfig{
			environment:        *environment,
			registry:           *registry,
			registryPath:       *registryPath,
			namespace:          *namespace,
			cacheServices:      *cacheServices,
			classifierServices: *classifierServices,
			dispatchTimeout:    *dispatchTimeout,
			backendTimeout:     *backendTimeout,
			circuitBreaker:     *circuitBreaker,
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		c, err := initializeController(ctx, cfg, prometheus.DefaultRegisterer)
		if err != nil {
			log.WithError(err).Errorf("Cannot start %s", *appName)
			os.Exit(1)
		}

		handler := &httpHandler{
			controller: c,
			secretKey:  *secretKey,
		}

		if err := listen(ctx, handler, *pathPrefix, *port); err != nil {
			log.WithError(err).Errorf("HTTP server stopped")
			os.Exit(1)
		}
	}

	err := app.Run(os.Args)
	if err != nil {
		panic(fmt.Sprintf("Cannot run the app. Error was: %v", err))
	}
}

type appConfig struct {
	environment        string
	registry           string
	registryPath       string
	namespace          string
	cacheServices      string
	classifierServices string
	dispatchTimeout    string
	backendTimeout     string
	circuitBreaker     bool
}

func initializeController(ctx context.Context, cfg appConfig, registerer prometheus.Registerer) (*orchestrationController, error) {
	cacheNames, err := parseCacheNames(cfg.cacheServices)
	if err != nil {
		return nil, err
	}
	kinds, err := parseKindServices(cfg.classifierServices)
	if err != nil {
		return nil, err
	}
	dispatchTimeout, err := time.ParseDuration(cfg.dispatchTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dispatch timeout: %w", err)
	}
	backendTimeout, err := time.ParseDuration(cfg.backendTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid backend timeout: %w", err)
	}

	metrics := newOrchestratorMetrics(registerer, cfg.environment)
	client := newHTTPClient(backendTimeout)

	var caller backendCaller = newHTTPBackendCaller(client)
	if cfg.circuitBreaker {
		caller = newBreakingCaller(caller)
	}

	d, err := newDispatcher(caller, dispatchTimeout, metrics)
	if err != nil {
		return nil, err
	}

	c := newOrchestrationController(cfg.environment, cacheNames, kinds, caller, d, &httpHealthcheckService{httpClient: client}, metrics)

	switch cfg.registry {
	case registryFile:
		snapshot, err := (&fileRegistry{path: cfg.registryPath}).snapshot(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.reload(snapshot); err != nil {
			return nil, err
		}
	case registryKubernetes:
		k8s, err := newK8sRegistry(cfg.namespace)
		if err != nil {
			return nil, err
		}
		snapshot, err := k8s.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.reload(snapshot); err != nil {
			return nil, err
		}
		go k8s.watch(ctx, func(snapshot registrySnapshot) {
			if err := c.reload(snapshot); err != nil {
				log.WithError(err).Warn("Ignoring registry change, keeping the current endpoints")
			}
		})
	default:
		return nil, fmt.Errorf("unknown registry %q", cfg.registry)
	}

	return c, nil
}

func router(httpHandler *httpHandler, pathPrefix string) *mux.Router {
	r := mux.NewRouter()
	s := r.PathPrefix(pathPrefix).Subrouter()
	s.HandleFunc("/classify", httpHandler.handleClassify).Methods(http.MethodPost)
	s.HandleFunc("/__health", httpHandler.handleHealthCheck).Methods(http.MethodGet)
	s.HandleFunc("/__gtg", httpHandler.handleGoodToGo).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func listen(ctx context.Context, httpHandler *httpHandler, pathPrefix string, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router(httpHandler, pathPrefix),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Cannot shut down HTTP server")
		}
	}()

	log.Infof("Listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
