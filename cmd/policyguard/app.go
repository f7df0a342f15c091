package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/policyguard/internal/authz"
	"github.com/vyrodovalexey/policyguard/internal/config"
	"github.com/vyrodovalexey/policyguard/internal/health"
	"github.com/vyrodovalexey/policyguard/internal/identity"
	"github.com/vyrodovalexey/policyguard/internal/middleware"
	"github.com/vyrodovalexey/policyguard/internal/observability"
	"github.com/vyrodovalexey/policyguard/internal/oracle"
	"github.com/vyrodovalexey/policyguard/internal/policy"
)

// application holds all server components.
type application struct {
	config   *config.Config
	logger   observability.Logger
	registry *prometheus.Registry
	tracer   *observability.Tracer

	holder      *oracle.Holder
	reloader    *policy.Reloader
	watcher     *policy.Watcher
	redisClient *redis.Client
	redisSource *policy.RedisSource

	handler http.Handler
	server  *http.Server
}

// newApplication builds every component and performs the initial policy
// load. A bound middleware needs a policy at startup; a deferred one starts
// without and answers 400 until a source delivers one.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (*application, error) {
	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	app := &application{
		config:   cfg,
		logger:   logger,
		registry: observability.NewRegistry(),
		tracer:   tracer,
		holder:   oracle.NewHolder(nil, ""),
	}

	app.reloader = policy.NewReloader(app.holder,
		policy.NewBuilder(
			policy.WithBuilderLogger(logger),
			policy.WithRegisterer(app.registry),
		),
		policy.WithReloaderLogger(logger),
		policy.WithReloaderMetrics(policy.NewMetrics("", app.registry)),
	)

	if cfg.Policy.Redis.Address != "" {
		app.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Policy.Redis.Address,
			Password: cfg.Policy.Redis.Password,
			DB:       cfg.Policy.Redis.DB,
		})
		app.redisSource = policy.NewRedisSource(app.redisClient,
			cfg.Policy.Redis.Key, cfg.Policy.Redis.Channel, app.reloader,
			policy.WithRedisLogger(logger),
		)
	}

	if err := app.loadPolicy(ctx); err != nil {
		if cfg.Authz.Binding == config.BindingBound {
			return nil, app.abort(ctx, err)
		}
		logger.Warn("starting without a policy", observability.Error(err))
	}

	handler, err := app.buildHandler()
	if err != nil {
		return nil, app.abort(ctx, err)
	}
	app.handler = handler

	app.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return app, nil
}

// loadPolicy loads every configured source once. Redis is read after the
// file so its document wins when both are set.
func (a *application) loadPolicy(ctx context.Context) error {
	var errs []error
	if a.config.Policy.File != "" {
		if _, err := a.reloader.ApplyFile(a.config.Policy.File); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redisSource != nil {
		if _, err := a.redisSource.Load(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if _, ok := a.holder.Current(); ok {
		return nil
	}
	return fmt.Errorf("no policy could be loaded: %w", errors.Join(errs...))
}

// buildHandler assembles the router: request id, access log and recovery
// for everything; identity and authorization for application routes.
func (a *application) buildHandler() (http.Handler, error) {
	httpMetrics := middleware.NewMetrics("", a.registry)

	guard, err := a.newAuthorization()
	if err != nil {
		return nil, err
	}
	authn, err := a.newAuthenticator()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(),
		middleware.Logging(a.logger, httpMetrics),
		middleware.Recovery(a.logger, httpMetrics),
	)

	checker := health.NewChecker(version)
	checker.RegisterCheck("policy", health.PolicyCheck(a.holder))
	if a.redisClient != nil {
		checker.RegisterCheck("redis", health.RedisCheck(a.redisClient))
	}
	r.Get("/healthz", checker.HealthHandler())
	r.Get("/readyz", checker.ReadinessHandler())
	if a.config.Metrics.Enabled {
		r.Handle(a.config.Metrics.Path, observability.MetricsHandler(a.registry))
	}

	r.Group(func(r chi.Router) {
		if authn != nil {
			r.Use(authn.Middleware())
		}
		if guard.Binding().Kind() == authz.BindingDeferred {
			r.Use(authz.Attach(a.holder))
		}
		r.Use(guard.Handler())

		r.Handle("/ok/extract", extractHandler(a.config.Authz.AnonymousSubject))
		r.HandleFunc("/*", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	return r, nil
}

func (a *application) newAuthorization() (*authz.Middleware, error) {
	decide := authz.PathDecision(authz.WithAnonymousSubject(a.config.Authz.AnonymousSubject))
	opts := []authz.Option{
		authz.WithMetrics(authz.NewMetrics("", a.registry)),
		authz.WithTracer(a.tracer.Tracer()),
	}

	if a.config.Authz.Binding == config.BindingDeferred {
		return authz.NewDeferred(decide, opts...), nil
	}

	h, ok := a.holder.Current()
	if !ok {
		return nil, errors.New("bound authorization requires a loaded policy")
	}
	return authz.New(h, decide, opts...), nil
}

// newAuthenticator returns nil when no JWT secret is configured.
func (a *application) newAuthenticator() (*identity.Authenticator, error) {
	jwtCfg := a.config.Identity.JWT
	if !jwtCfg.Enabled() {
		return nil, nil
	}
	return identity.NewAuthenticator(identity.JWTConfig{
		Secret:    jwtCfg.Secret,
		Algorithm: jwtCfg.Algorithm,
		Issuer:    jwtCfg.Issuer,
	},
		identity.WithLogger(a.logger),
		identity.WithAnonymousSubject(a.config.Authz.AnonymousSubject),
		identity.WithRequireAuth(jwtCfg.RequireAuth),
	)
}

// extractHandler asks the published oracle again for the same request.
func extractHandler(anonymousSubject string) http.Handler {
	return authz.WithOracle(func(w http.ResponseWriter, r *http.Request, h *oracle.Handle) {
		subject, ok := identity.FromContext(r.Context())
		if !ok {
			subject = identity.Anonymous(anonymousSubject)
		}

		allowed, err := h.Evaluate(r.Context(), subject, strings.ToUpper(r.Method), r.URL.Path)
		if err != nil || !allowed {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("no!"))
			return
		}
		_, _ = w.Write([]byte("yay!"))
	})
}

// startSources starts the file watcher and Redis subscription when
// configured. A bound middleware keeps its startup handle, so reloads only
// reach requests under deferred binding.
func (a *application) startSources(ctx context.Context) error {
	if a.config.Policy.Watch {
		watcher, err := policy.NewWatcher(a.config.Policy.File, a.reloader,
			policy.WithWatcherLogger(a.logger),
		)
		if err != nil {
			return fmt.Errorf("failed to create policy watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start policy watcher: %w", err)
		}
		a.watcher = watcher
	}

	if a.redisSource != nil {
		if err := a.redisSource.Start(ctx); err != nil {
			return fmt.Errorf("failed to start redis policy source: %w", err)
		}
	}
	return nil
}

// run serves until ctx is done, then shuts down gracefully.
func (a *application) run(ctx context.Context) error {
	if err := a.startSources(ctx); err != nil {
		_ = a.shutdown(context.Background())
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", observability.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	return errors.Join(serveErr, a.shutdown(shutdownCtx))
}

// shutdown stops the server first so in-flight requests finish against the
// current policy, then releases policy sources and the tracer.
func (a *application) shutdown(ctx context.Context) error {
	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
		}
	}
	errs = append(errs, a.closeSources())
	if err := a.holder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close oracle: %w", err))
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown tracer: %w", err))
	}
	return errors.Join(errs...)
}

// abort releases what newApplication acquired and returns err.
func (a *application) abort(ctx context.Context, err error) error {
	ctx = context.WithoutCancel(ctx)
	_ = a.closeSources()
	_ = a.holder.Close()
	_ = a.tracer.Shutdown(ctx)
	return err
}

func (a *application) closeSources() error {
	var errs []error
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop policy watcher: %w", err))
		}
	}
	if a.redisSource != nil {
		if err := a.redisSource.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop redis policy source: %w", err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}
	return errors.Join(errs...)
}
