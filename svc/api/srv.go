package api

import (
	"context"
	"net/http"
	"time"

	"bitbin/cfg"
	"bitbin/svc/db"
	"bitbin/svc/lim"
	"bitbin/svc/svc"
	"bitbin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	content    *svc.Content
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	httpServer *http.Server
}

// NewServer builds the router. rdb may be nil.
func NewServer(c *cfg.Cfg, content *svc.Content, l *lim.Limiter, sqlDB *db.SQLite, rdb *db.Redis) *Server {
	s := &Server{
		content: content,
		cfg:     c,
		db:      sqlDB,
		rdb:     rdb,
	}
	r := chi.NewRouter()
	mw := NewMw(l, c)
	r.Use(mw.CORS)
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.BasicAuthMetrics)
		r.Mount("/debug", middleware.Profiler())
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.Observe)
		hdl := &Hdl{content: content, cfg: c}
		r.With(mw.RateLimit("post")).Post("/post", hdl.Create)
		r.With(mw.RateLimit("get")).Get("/{key}", hdl.Get)
		r.With(mw.RateLimit("get")).Head("/{key}", hdl.Get)
	})
	s.router = r
	s.httpServer = &http.Server{
		Addr:              c.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       c.KeepAliveTimeout,
		MaxHeaderBytes:    256 * 1024,
	}
	if c.KeepAliveTimeout == 0 {
		s.httpServer.SetKeepAlivesEnabled(false)
	}
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	log := util.Info().Str("addr", s.httpServer.Addr).Bool("tls", s.cfg.TLS.Enabled)
	log.Msg("starting server")
	var err error
	if s.cfg.TLS.Enabled {
		err = s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("addr", s.httpServer.Addr).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
