package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Group names a route group mounted under the API prefix.
type Group string

const (
	GroupPortal    Group = "portal"
	GroupEvaluator Group = "evaluator"
	GroupAdmin     Group = "admin"
)

// mountOrder fixes the order groups are registered in.
var mountOrder = []Group{GroupPortal, GroupEvaluator, GroupAdmin}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	apiPrefix   string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[Group]*routeGroup
}

func (c *routerConfig) group(name Group) *routeGroup {
	g, ok := c.groups[name]
	if !ok {
		g = &routeGroup{}
		c.groups[name] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// NewRouter builds the chi router. Health probes sit at the root; every group lives under /api/v1
// and answers 501 until a registrar is supplied.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		apiPrefix: apiPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.CleanPath,
			middleware.Timeout(requestTimeout),
		},
		groups: make(map[Group]*routeGroup, len(mountOrder)),
	}
	// Portal and evaluator payloads carry signed preview URLs.
	cfg.group(GroupPortal).middlewares = []func(http.Handler) http.Handler{middleware.NoCache}
	cfg.group(GroupEvaluator).middlewares = []func(http.Handler) http.Handler{middleware.NoCache}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.apiPrefix, func(api chi.Router) {
		for _, name := range mountOrder {
			g := cfg.group(name)
			api.Route("/"+string(name), func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.registrar == nil {
					registerNotImplemented(sub, name)
					return
				}
				g.registrar(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends global middleware, applied to every route including health probes.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithPortalRoutes mounts the nominee portal.
func WithPortalRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(GroupPortal, reg)
}

// WithEvaluatorRoutes mounts the staff review console.
func WithEvaluatorRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(GroupEvaluator, reg)
}

// WithAdminRoutes mounts catalog administration.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(GroupAdmin, reg)
}

// WithGroupMiddlewares appends middleware that runs only for one group, after the global chain.
func WithGroupMiddlewares(name Group, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(name)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func withGroupRoutes(name Group, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(name).registrar = reg
	}
}

func registerNotImplemented(r chi.Router, name Group) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
