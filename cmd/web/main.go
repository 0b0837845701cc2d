// cmd/web/main.go
//
// Multi-Server Logs Panel – HTTP entry point.
//
// Startup sequence
// ----------------
//
//  1. Start daily rotating logger (tees to console when running in a TTY).
//
//  2. Load config (conf/.env → conf/config.yaml → env overrides → Vault).
//
//  3. Open tenant registry and log tenant count.
//
//  4. Build services: engine manager, log service, status checker,
//     identity directory, authorization engine, session manager.
//
//  5. Sync outbound firewall rules for every configured database host.
//
//  6. Start the SIGHUP hot-reload listener and the cache sweeper, then
//     serve until SIGINT/SIGTERM and drain.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guildlogs/panel/internal/authz"
	"github.com/guildlogs/panel/internal/config"
	"github.com/guildlogs/panel/internal/connman"
	"github.com/guildlogs/panel/internal/directory"
	"github.com/guildlogs/panel/internal/firewall"
	"github.com/guildlogs/panel/internal/logger"
	"github.com/guildlogs/panel/internal/logs"
	"github.com/guildlogs/panel/internal/middleware"
	"github.com/guildlogs/panel/internal/registry"
	"github.com/guildlogs/panel/internal/requestinfo"
	"github.com/guildlogs/panel/internal/server"
	"github.com/guildlogs/panel/internal/session"
	"github.com/guildlogs/panel/internal/status"
	"github.com/guildlogs/panel/internal/web"
)

const sweepInterval = time.Minute

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	rootDir, _ := os.Getwd()
	logOut, err := logger.New(rootDir, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Configuration ───────────────────────────────────────────────
	//
	cfg, err := config.Load(ctx)
	if err != nil {
		logOut.Fatalf("load config: %v", err)
	}

	//
	// ── 2.  Tenant registry ─────────────────────────────────────────────
	//
	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		logOut.Fatalf("open tenant registry: %v", err)
	}
	logOut.Infow("registry online", "tenants", len(reg.IDs()))

	//
	// ── 3.  Services ────────────────────────────────────────────────────
	//
	conns := connman.New(reg)
	defer conns.Close()

	logSvc := logs.NewService(reg, conns)
	checker := status.New(conns)

	dir := directory.New(directory.Config{
		APIBase:      cfg.Identity.APIBase,
		BotToken:     cfg.Identity.BotToken,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		RedirectURI:  cfg.Identity.RedirectURI,
	})

	supers := make([]string, 0, len(cfg.Auth.SuperAdmins()))
	for id := range cfg.Auth.SuperAdmins() {
		supers = append(supers, id)
	}
	authzEng := authz.New(reg, dir, supers)

	sessions := session.New(
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.SessionHours)*time.Hour,
		cfg.HTTP.ForceHTTPS,
	)

	//
	// ── 4.  Outbound firewall sync ──────────────────────────────────────
	//
	firewall.Sync(ctx, reg)

	//
	// ── 5.  HTTP surface ────────────────────────────────────────────────
	//
	handlers := web.New(web.Deps{
		Registry: reg,
		Logs:     logSvc,
		Status:   checker,
		Authz:    authzEng,
		Sessions: sessions,
		Identity: dir,
		Engines:  conns,
		Resolver: requestinfo.NewResolver(cfg.HTTP.TrustedProxyCIDRs),
		SiteName: cfg.SiteName,
	})

	root := handlers.Router()
	if cfg.HTTP.ForceHTTPS {
		root = middleware.ForceHTTPS(root)
	}
	srv := server.New(cfg.HTTP.ListenAddr, root)

	//
	// ── 6.  Hot reload on SIGHUP ────────────────────────────────────────
	//
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := config.Reload(ctx); err != nil {
					logOut.Errorw("config reload failed", "error", err)
					continue
				}
				if err := reg.Reload(); err != nil {
					logOut.Errorw("registry reload failed", "error", err)
					continue
				}
				// Cached verdicts may be stale against the fresh
				// documents; engines rebuild themselves on URI drift.
				authzEng.InvalidateAll()
				logOut.Infow("configuration reloaded",
					"tenants", len(reg.IDs()),
					"site_name", config.Get().SiteName,
				)
			}
		}
	}()

	//
	// ── 7.  Cache sweeper ───────────────────────────────────────────────
	//
	go func() {
		tick := time.NewTicker(sweepInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				logSvc.Sweep()
				checker.Sweep()
				authzEng.Sweep()
			}
		}
	}()

	//
	// ── 8.  Serve until signalled, then drain ───────────────────────────
	//
	errCh := make(chan error, 1)
	go func() {
		logOut.Infow("listening", "addr", cfg.HTTP.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logOut.Infow("shutdown signal received")
	case err := <-errCh:
		logOut.Fatalf("http server: %v", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logOut.Warnw("shutdown incomplete", "error", err)
	}
}
