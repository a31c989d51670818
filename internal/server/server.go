// Package server assembles the lending services over a document store and
// exposes them as one HTTP API.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/docstore"
	"librarium/internal/journal"
	"librarium/internal/membership"
)

// Collections lists every collection the services use.
var Collections = []string{catalog.Collection, membership.Collection, circulation.Collection, journal.Collection}

// Options tunes the assembled application.
type Options struct {
	// Driver names the store backend in /test.
	Driver         string
	RequestTimeout time.Duration
	// RegistrationLimiter throttles member registration; nil disables it.
	RegistrationLimiter *rate.Limiter
	CirculationOptions  []circulation.Option
}

// App holds the wired services.
type App struct {
	Store   docstore.Store
	Ledger  *catalog.Ledger
	Journal *journal.Journal
	Catalog catalog.Service
	Members membership.Service
	Loans   circulation.Service

	logger *zap.Logger
	opts   Options
}

// New wires the services over store.
func New(store docstore.Store, logger *zap.Logger, opts Options) *App {
	ledger := catalog.NewLedger(store, logger.Named("ledger"))
	j := journal.New(store)
	members := membership.NewService(store, opts.RegistrationLimiter, logger.Named("membership"))
	loans := circulation.NewService(store, ledger, members, j, logger.Named("circulation"), opts.CirculationOptions...)

	return &App{
		Store:   store,
		Ledger:  ledger,
		Journal: j,
		Catalog: catalog.NewService(store, ledger, loans, logger.Named("catalog")),
		Members: members,
		Loans:   loans,
		logger:  logger,
		opts:    opts,
	}
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.logger))
	r.Use(middleware.Recoverer)
	if a.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(a.opts.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/", a.handleRoot)
	r.Get("/test", a.handleTest)
	r.Get("/schema", handleSchema)

	catalog.NewHandler(a.Catalog, a.logger).Routes(r)
	membership.NewHandler(a.Members, a.logger).Routes(r)
	circulation.NewHandler(a.Loans, a.logger).Routes(r)

	return otelhttp.NewHandler(r, "librarium",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
