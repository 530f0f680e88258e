package balancer

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lumichat/gateserver/logger"
)

// HealthChecker periodically probes every registered instance with a plain
// TCP dial and feeds the result into the LoadBalancer.  A replica that
// stops accepting connections drops out of selection within one interval;
// it re-enters as soon as a probe succeeds again.
//
// The loop follows the stop-channel + sync.Once idiom: Stop is idempotent
// and waits for the in-flight probe round to finish.
type HealthChecker struct {
	lb       *LoadBalancer
	registry *ServiceRegistry
	log      *logger.Logger

	dialTimeout time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewHealthChecker creates a checker over registry, reporting into lb.
func NewHealthChecker(lb *LoadBalancer, registry *ServiceRegistry, log *logger.Logger) *HealthChecker {
	return &HealthChecker{
		lb:          lb,
		registry:    registry,
		log:         log,
		dialTimeout: 5 * time.Second,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the probe loop with the given interval.  Idempotent.
func (h *HealthChecker) Start(interval time.Duration) {
	h.startOnce.Do(func() {
		go h.loop(interval)
		h.log.Infof("health checker started with interval %s", interval)
	})
}

// Stop signals the loop to exit and waits for it.  Idempotent; safe to call
// even if Start never ran.
func (h *HealthChecker) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.startOnce.Do(func() { close(h.doneCh) }) // loop never started
	<-h.doneCh
}

func (h *HealthChecker) loop(interval time.Duration) {
	defer close(h.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.probeAll()
		}
	}
}

func (h *HealthChecker) probeAll() {
	for service, regs := range h.registry.All() {
		for _, reg := range regs {
			healthy := h.probe(reg.Host, reg.Port)
			h.lb.UpdateHealth(service, reg.Host, reg.Port, healthy)
			if !healthy {
				h.log.Warnf("health check failed for %s at %s:%d", service, reg.Host, reg.Port)
			}
		}
	}
}

// probe reports whether host:port accepts a TCP connection within the dial
// timeout.
func (h *HealthChecker) probe(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), h.dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
