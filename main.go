// GateServer is the gateway of a real-time instant-messaging backend.  It
// terminates client connections, authenticates users over HTTP, upgrades
// them to WebSocket sessions, and fans traffic out to the presence service
// and the message store.
//
// Startup sequence:
//  1. Parse <address> <port> and optional flags.
//  2. Load configuration (JSON file or defaults).
//  3. Register database and status replicas with the load balancer and
//     start the health checker.
//  4. Connect the database (fatal on failure) and the cache.
//  5. Initialise the status client pool and the worker pool.
//  6. Start the HTTP listener and the periodic registry sweep.
//  7. Block until SIGINT or SIGTERM, then perform a clean shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lumichat/gateserver/balancer"
	"github.com/lumichat/gateserver/cache"
	"github.com/lumichat/gateserver/config"
	"github.com/lumichat/gateserver/db"
	"github.com/lumichat/gateserver/gate"
	"github.com/lumichat/gateserver/logger"
	"github.com/lumichat/gateserver/metrics"
	"github.com/lumichat/gateserver/registry"
	"github.com/lumichat/gateserver/status"
	"github.com/lumichat/gateserver/worker"
	"github.com/lumichat/gateserver/ws"
)

func main() {
	// ── Flags & arguments ──────────────────────────────────────────────────
	configFile := flag.String("config", "", "Path to JSON config file (optional; uses defaults if omitted)")
	workerCount := flag.Int("workers", 16, "Worker pool size for background presence publishes")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <address> <port>\n", os.Args[0])
		os.Exit(1)
	}
	address := flag.Arg(0)
	port, err := strconv.Atoi(flag.Arg(1))
	if err != nil || port <= 0 || port > 65535 {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", flag.Arg(1))
		os.Exit(1)
	}

	// ── Logger ─────────────────────────────────────────────────────────────
	log := logger.New(logger.LevelInfo)
	log.Info("GateServer starting up")

	// ── Configuration ──────────────────────────────────────────────────────
	var cfg *config.Config
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Errorf("failed to load config from %q: %v", *configFile, err)
			os.Exit(1)
		}
		log.Infof("configuration loaded from %q", *configFile)
	} else {
		cfg = config.Default()
		log.Info("using default configuration")
	}

	// ── Load balancer & health checker ─────────────────────────────────────
	lb := balancer.New()
	services := balancer.NewServiceRegistry(lb)
	for _, inst := range cfg.Database.Instances {
		services.Register(db.ServiceName, inst.Host, inst.Port, inst.Weight, "")
	}
	for _, inst := range cfg.Status.Instances {
		services.Register(status.ServiceName, inst.Host, inst.Port, inst.Weight, "")
	}
	checker := balancer.NewHealthChecker(lb, services, log)
	checker.Start(time.Duration(cfg.HealthCheckIntervalSec) * time.Second)

	// ── Database ───────────────────────────────────────────────────────────
	database := db.NewManager(lb, db.Credentials{
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
	}, cfg.DatabaseTimeout, log)
	if err := database.Connect(context.Background()); err != nil {
		log.Errorf("database connect failed: %v", err)
		os.Exit(1)
	}

	// ── Cache ──────────────────────────────────────────────────────────────
	// The cache is a secondary store: a miss here degrades reads, it does
	// not block startup.
	redisCache := cache.NewManager(log)
	if err := redisCache.Initialize(context.Background(), cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.PoolSize); err != nil {
		log.Warnf("cache unavailable, continuing without it: %v", err)
	}

	// ── Status client pool ─────────────────────────────────────────────────
	pool := status.NewPool(lb, log)
	if err := pool.Initialize(cfg.Status.PoolSize); err != nil {
		log.Warnf("status pool init failed, stubs will be built per session: %v", err)
	}

	// ── Worker pool ────────────────────────────────────────────────────────
	workers := worker.NewPool(*workerCount)
	workers.Start()
	log.Infof("worker pool started with %d workers", *workerCount)

	// ── Registries & HTTP surface ──────────────────────────────────────────
	connections := registry.New()
	manager := ws.NewManager()
	m := metrics.New()

	server := gate.NewServer(cfg, log, database, connections, manager, m,
		ws.PoolAdapter{Pool: pool}, workers)
	listener := gate.NewListener(server, log)
	if err := listener.Start(net.JoinHostPort(address, strconv.Itoa(port))); err != nil {
		log.Errorf("listener start failed: %v", err)
		os.Exit(1)
	}

	// ── Periodic sweep ─────────────────────────────────────────────────────
	// Evicts registry entries with no activity past the expiry threshold and
	// prunes stale rate-limit windows.
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.SweepIntervalSec) * time.Second)
		defer ticker.Stop()
		expiry := time.Duration(cfg.SessionExpirySec) * time.Second
		for {
			select {
			case <-sweepStop:
				return
			case <-ticker.C:
				if !workers.TrySubmit(func() {
					if removed := connections.SweepExpired(expiry); removed > 0 {
						log.Infof("sweep removed %d expired sessions", removed)
					}
					server.Limiter().Prune()
				}) {
					log.Warn("worker pool saturated; sweep skipped this tick")
				}
			}
		}
	}()

	// ── Metrics monitor ────────────────────────────────────────────────────
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			conns, framesIn, framesOut, authFailures, dropped, slow := m.Snapshot()
			log.Infof("metrics – connections: %d | frames in: %d | out: %d | auth failures: %d | dropped: %d | slow peers: %d | online: %d",
				conns, framesIn, framesOut, authFailures, dropped, slow, connections.OnlineCount())
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println() // newline after ^C
	log.Infof("received signal %s; shutting down", sig)

	// Stop accepting, then tear everything down in dependency order.
	listener.Stop()
	close(sweepStop)

	for _, userID := range manager.Users() {
		if sess := manager.Get(userID); sess != nil {
			sess.Close()
		}
	}
	manager.Cleanup()

	workers.Stop()
	pool.Shutdown()
	checker.Stop()
	redisCache.Close()
	database.Disconnect()

	log.Info("GateServer shut down cleanly")
}
