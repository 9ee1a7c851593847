package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soaringjerry/Pulse/internal/api"
	"github.com/soaringjerry/Pulse/internal/blob"
	"github.com/soaringjerry/Pulse/internal/config"
	"github.com/soaringjerry/Pulse/internal/metrics"
	"github.com/soaringjerry/Pulse/internal/middleware"
	"github.com/soaringjerry/Pulse/internal/services"
	"github.com/soaringjerry/Pulse/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Printf("warning: failed to close store: %v", cerr)
		}
	}()

	deps := api.Deps{
		Store:  store,
		Auth:   middleware.NewAuthenticator(cfg.JWTSecret),
		Admins: adminDirectory(cfg.Admin),
	}
	if bc, ok := cfg.BlobStore(); ok {
		bs, err := blob.Open(ctx, bc)
		if err != nil {
			log.Fatalf("blob: %v", err)
		}
		deps.Archiver = blob.NewArchiver(bs)
		log.Printf("archiving locked snapshots to %s blob store", bs.Driver())
	}
	var recorder *metrics.Recorder
	if cfg.Metrics {
		recorder = metrics.New()
		deps.Metrics = recorder
	}

	mux := http.NewServeMux()
	api.NewRouter(deps).Register(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		locale := middleware.LocaleFromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "Pulse API",
			"locale":     locale,
			"msg":        utils.T(locale, "health.ok"),
			"storage":    cfg.Storage.Driver,
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})
	if recorder != nil {
		mux.Handle("GET /metrics", recorder.Handler())
	}

	// Frontend serving strategy (priority):
	// 1) Static files if a static dir is configured (fullstack image)
	// 2) Dev proxy if a dev frontend URL is set (proxy / to Vite dev)
	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	} else if cfg.DevFrontend != "" {
		if u, err := url.Parse(cfg.DevFrontend); err == nil {
			rp := httputil.NewSingleHostReverseProxy(u)
			// Ensure no-store headers also apply to proxied responses
			rp.ModifyResponse = func(res *http.Response) error {
				res.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
				res.Header.Set("Pragma", "no-cache")
				res.Header.Set("Expires", "0")
				return nil
			}
			mux.Handle("/", rp)
		} else {
			log.Printf("invalid PULSE_DEV_FRONTEND_URL=%q: %v", cfg.DevFrontend, err)
		}
	}

	var handler http.Handler = middleware.LocaleMiddleware(mux)
	handler = middleware.NoStore(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	handler = middleware.SecureHeaders(handler)
	handler = middleware.RequestLog(handler)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("Pulse server listening on %s (storage=%s)", cfg.Addr, cfg.Storage.Driver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func adminDirectory(a config.AdminConfig) services.StaticDirectory {
	if a.Email == "" || a.PasswordHash == "" {
		log.Printf("warning: no admin account configured, admin login is disabled")
		return services.NewStaticDirectory()
	}
	return services.NewStaticDirectory(services.AdminAccount{
		ID:       "admin",
		Email:    a.Email,
		PassHash: []byte(a.PasswordHash),
	})
}
