// StatusServer is the presence/friend service behind the gateway.  It owns
// the authoritative user_status and user_friends rows and mirrors hot reads
// into the cache.
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

	"google.golang.org/grpc"

	"github.com/lumichat/gateserver/balancer"
	"github.com/lumichat/gateserver/cache"
	"github.com/lumichat/gateserver/config"
	"github.com/lumichat/gateserver/db"
	"github.com/lumichat/gateserver/logger"
	"github.com/lumichat/gateserver/status/statuspb"
	"github.com/lumichat/gateserver/statusserver"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	port := flag.Int("port", 50051, "gRPC listen port")
	configFile := flag.String("config", "", "Path to JSON config file (optional; uses defaults if omitted)")
	flag.Parse()

	// ── Logger ─────────────────────────────────────────────────────────────
	log := logger.New(logger.LevelInfo)
	log.Info("StatusServer starting up")

	// ── Configuration ──────────────────────────────────────────────────────
	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Errorf("failed to load config from %q: %v", *configFile, err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	// ── Load balancer & database ───────────────────────────────────────────
	lb := balancer.New()
	for _, inst := range cfg.Database.Instances {
		lb.Register(db.ServiceName, inst.Host, inst.Port, inst.Weight)
	}
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
	redisCache := cache.NewManager(log)
	if err := redisCache.Initialize(context.Background(), cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.PoolSize); err != nil {
		log.Warnf("cache unavailable, continuing without it: %v", err)
	}

	// ── gRPC server ────────────────────────────────────────────────────────
	addr := net.JoinHostPort("", strconv.Itoa(*port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Errorf("listen %s: %v", addr, err)
		os.Exit(1)
	}

	srv := grpc.NewServer(grpc.ForceServerCodec(statuspb.Codec{}))
	statuspb.RegisterStatusServiceServer(srv, statusserver.New(database, redisCache, log))

	go func() {
		log.Infof("StatusServer listening on :%d", *port)
		if err := srv.Serve(ln); err != nil {
			log.Errorf("serve: %v", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println() // newline after ^C
	log.Infof("received signal %s; shutting down", sig)

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		srv.Stop()
	}

	redisCache.Close()
	database.Disconnect()
	log.Info("StatusServer shut down cleanly")
}
