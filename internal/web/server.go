// Package web serves the demo site and JSON flag API on top of a flags.Handle.
package web

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/TimurManjosov/flagship-webdemo/internal/evalctx"
	"github.com/TimurManjosov/flagship-webdemo/internal/flags"
	"github.com/TimurManjosov/flagship-webdemo/internal/telemetry"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Options configures a Server.
type Options struct {
	BannerFlagKey  string // flag shown on the home page
	RateLimitPerIP int    // requests per minute per IP on /api; 0 disables
	Logger         zerolog.Logger
}

// Server serves the demo site and its flag API.
type Server struct {
	handle *flags.Handle
	opts   Options
}

// NewServer returns a server evaluating flags through h. h may be nil, in
// which case every flag resolves to its default.
func NewServer(h *flags.Handle, opts Options) *Server {
	if opts.BannerFlagKey == "" {
		opts.BannerFlagKey = "web-banner"
	}
	return &Server{handle: h, opts: opts}
}

// Router returns the HTTP handler with every route and middleware mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(hlog.NewHandler(s.opts.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-Id"))
	r.Use(telemetry.Middleware)
	r.Use(s.withHandle)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "no route for "+r.URL.Path)
	})

	r.Get("/", s.handleHome)
	r.Get("/health", handleHealth)
	r.Get("/status", s.handleStatus)

	r.Route("/api", func(r chi.Router) {
		if s.opts.RateLimitPerIP > 0 {
			r.Use(httprate.Limit(s.opts.RateLimitPerIP, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, r, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
				}),
			))
		}
		r.Get("/flag/{flagKey}", s.handleFlag)
		r.Get("/flag/{flagKey}/detail", s.handleFlagDetail)
	})
	return r
}

// withHandle makes the handle available to handlers via flags.FromContext.
func (s *Server) withHandle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(flags.NewContext(r.Context(), s.handle)))
	})
}

type homePage struct {
	FlagKey  string
	User     string
	BannerOn bool
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	h := flags.FromContext(r.Context())
	// the page always renders for the fixed visitor identity
	ctx := evalctx.New(DefaultVisitorKey)
	page := homePage{
		FlagKey:  s.opts.BannerFlagKey,
		User:     DefaultVisitorKey,
		BannerOn: h.Variation(s.opts.BannerFlagKey, ctx, false),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, page); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render home page")
	}
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	flagKey := chi.URLParam(r, "flagKey")
	ctx := ContextFromRequest(r, DefaultUserKey)
	value := flags.FromContext(r.Context()).Variation(flagKey, ctx, false)

	writeJSON(w, http.StatusOK, flagResponse{Flag: flagKey, User: ctx.Key(), Value: value})
}

func (s *Server) handleFlagDetail(w http.ResponseWriter, r *http.Request) {
	flagKey := chi.URLParam(r, "flagKey")
	ctx := ContextFromRequest(r, DefaultUserKey)
	value, why := flags.FromContext(r.Context()).VariationDetail(flagKey, ctx, false)

	writeJSON(w, http.StatusOK, flagDetailResponse{
		flagResponse: flagResponse{Flag: flagKey, User: ctx.Key(), Value: value},
		Reason:       why,
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	initialized := flags.FromContext(r.Context()).IsInitialized()
	writeJSON(w, http.StatusOK, newStatusResponse(initialized))
}
