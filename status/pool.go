package status

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/lumichat/gateserver/balancer"
	"github.com/lumichat/gateserver/logger"
)

// ServiceName is the load-balancer service name of the status replicas.
const ServiceName = "status"

// DefaultAddr is used by Acquire before Initialize has run: an ad-hoc stub
// is built against it so early sessions still get a working channel.
const DefaultAddr = "127.0.0.1:50051"

// Pool is a fixed-size LIFO stack of status-service stubs.
//
// Concurrency model: one mutex guards the free list and the initialized
// flag; stub construction (which performs no I/O — gRPC dials lazily)
// happens outside any hot path concern but inside the lock for simplicity.
//
// Lifecycle: sessions Acquire a stub at upgrade time and Release it during
// teardown.  A released stub that has observed a transport error is closed
// and discarded rather than recycled; a release that would overflow the
// pool size is likewise dropped.
type Pool struct {
	mu          sync.Mutex
	free        []*Client
	size        int
	initialized bool

	lb  *balancer.LoadBalancer
	log *logger.Logger
}

// NewPool creates an uninitialised Pool that selects replicas through lb.
func NewPool(lb *balancer.LoadBalancer, log *logger.Logger) *Pool {
	return &Pool{lb: lb, log: log}
}

// Initialize fills the pool with size stubs, each bound to a
// balancer-selected replica.  Idempotent: a second call is a no-op.
func (p *Pool) Initialize(size int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}
	if size <= 0 {
		size = 1
	}
	p.size = size

	for i := 0; i < size; i++ {
		client, err := p.dialBalancedLocked()
		if err != nil {
			return fmt.Errorf("status: initialize pool (%d/%d stubs built): %w", i, size, err)
		}
		p.free = append(p.free, client)
	}
	p.initialized = true
	p.log.Infof("status: client pool initialized with %d stubs", size)
	return nil
}

// Acquire returns a stub for a session's exclusive borrowing.  Before
// Initialize it returns an ad-hoc stub against DefaultAddr; after, it pops
// the free list or constructs a fresh stub against a healthy replica when
// the list is empty.
func (p *Pool) Acquire() (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		p.log.Warn("status: acquire before initialize; building ad-hoc stub")
		return Dial(DefaultAddr)
	}

	if n := len(p.free); n > 0 {
		client := p.free[n-1]
		p.free = p.free[:n-1]
		return client, nil
	}
	return p.dialBalancedLocked()
}

// Release returns a stub to the pool.  Faulted stubs are closed and
// discarded — a stub that has seen a transport error must never be handed
// to another session — and their replica is marked unhealthy so the next
// pick avoids it until the health checker clears it.  Stubs beyond the
// pool size are also closed.
func (p *Pool) Release(client *Client) {
	if client == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if client.Faulted() {
		if host, portStr, err := net.SplitHostPort(client.Addr()); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				p.lb.UpdateHealth(ServiceName, host, port, false)
				p.log.Warnf("status: replica %s marked unhealthy after stub fault", client.Addr())
			}
		}
		client.Close()
		return
	}

	if !p.initialized || len(p.free) >= p.size {
		client.Close()
		return
	}
	p.free = append(p.free, client)
}

// Free returns the current free-list length.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Shutdown closes every pooled stub.  Borrowed stubs are closed by their
// sessions' teardown via Release.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, client := range p.free {
		client.Close()
	}
	p.free = nil
	p.initialized = false
}

func (p *Pool) dialBalancedLocked() (*Client, error) {
	inst, err := p.lb.Pick(ServiceName, balancer.RoundRobin)
	if err != nil {
		return nil, fmt.Errorf("status: pick replica: %w", err)
	}
	return Dial(net.JoinHostPort(inst.Host, strconv.Itoa(inst.Port)))
}
