// Command ussyncd is the USSL daemon: it serves the in-memory CRDT
// state-sync protocol over TCP and WebSocket, optionally TLS-wrapped,
// authenticated, rate-limited, persisted, and instrumented.
package main

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/ussync/ussyncd/internal/config"
	"github.com/ussync/ussyncd/internal/logging"
	"github.com/ussync/ussyncd/internal/manager"
	"github.com/ussync/ussyncd/internal/metrics"
	"github.com/ussync/ussyncd/internal/ratelimit"
	"github.com/ussync/ussyncd/internal/storage"
	"github.com/ussync/ussyncd/internal/transport"
)

var logger = logging.Named("ussyncd")

const banner = `
  ╦ ╦╔═╗╔═╗╦
  ║ ║╚═╗╚═╗║
  ╚═╝╚═╝╚═╝╩═╝
  Universal State Synchronization Layer
`

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fmt.Print(banner)

	mgr := manager.NewWithShard(cfg.ShardIndex)
	defer mgr.Close()

	var store storage.Storage
	if cfg.DB != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.DB})
		store = storage.NewRedis(client)
		logger.Infow("persistence enabled", "backend", "redis", "addr", cfg.DB)
	} else {
		logger.Info("running in-memory only (no --db specified)")
	}
	if store != nil {
		defer store.Close()
	}

	var rateCfg *ratelimit.Config
	if cfg.RateLimit > 0 {
		c := ratelimit.FromRate(cfg.RateLimit)
		if cfg.RateBurst > 0 {
			c.BurstSize = cfg.RateBurst
		}
		rateCfg = &c
	}

	if cfg.Password != "" {
		logger.Info("authentication enabled")
	}

	var tlsConfig *tls.Config
	if cfg.TLSCert != "" {
		loaded, err := transport.LoadTLSConfig(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Errorw("failed to load TLS configuration", "error", err)
			os.Exit(1)
		}
		tlsConfig = loaded
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		logger.Infow("metrics enabled", "addr", cfg.MetricsAddr)
	}

	errCh := make(chan error, 3)
	started := 0

	if !cfg.NoTCP {
		addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.TCPPort)
		srv := &transport.TCPServer{Manager: mgr, Addr: addr, Password: cfg.Password, Storage: store, RateCfg: rateCfg, Metrics: m}
		if tlsConfig != nil {
			srv.TLS = tlsConfig
		}
		started++
		go func() {
			if err := srv.Run(); err != nil {
				errCh <- fmt.Errorf("tcp server: %w", err)
			}
		}()
		logger.Infow("tcp server starting", "addr", addr)
	}

	if !cfg.NoWS {
		addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.WSPort)
		wsSrv := &transport.WebSocketServer{Manager: mgr, Addr: addr, Password: cfg.Password, Storage: store, RateCfg: rateCfg, Metrics: m}
		mux := http.NewServeMux()
		mux.Handle("/ws", wsSrv.Handler())
		httpSrv := &http.Server{Addr: addr, Handler: mux, TLSConfig: tlsConfig}
		started++
		go func() {
			var err error
			if tlsConfig != nil {
				err = httpSrv.ListenAndServeTLS("", "")
			} else {
				err = httpSrv.ListenAndServe()
			}
			if err != nil {
				errCh <- fmt.Errorf("websocket server: %w", err)
			}
		}()
		logger.Infow("websocket server starting", "addr", addr, "tls", tlsConfig != nil)
	}

	if started == 0 {
		logger.Error("no transport enabled, exiting")
		os.Exit(1)
	}

	if m != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		logger.Infow("metrics server starting", "addr", cfg.MetricsAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Errorw("server error", "error", err)
		os.Exit(1)
	case <-sigCh:
		logger.Info("shutting down")
	}
}
