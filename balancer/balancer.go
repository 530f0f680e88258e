// Package balancer provides health-aware instance selection across the
// replicated backing services (MySQL replicas, status-service replicas).
// One LoadBalancer is shared by the database driver and the status client
// pool so a replica marked unhealthy by either consumer is avoided by both.
package balancer

import (
	"errors"
	"math/rand"
	"sync"
)

// Selection algorithms accepted by Pick.
const (
	RoundRobin         = "round_robin"
	WeightedRoundRobin = "weighted_round_robin"
	LeastConnections   = "least_connections"
)

// ErrNoHealthyInstance is returned by Pick when the named service has no
// registered instance or every registered instance is unhealthy.  Callers
// must surface it as a service-unavailable condition.
var ErrNoHealthyInstance = errors.New("balancer: no healthy instance")

// Instance is one live address of a replicated backend service.
type Instance struct {
	Service string
	Host    string
	Port    int
	Weight  int
	Healthy bool
}

// LoadBalancer selects instances for named services.
//
// Concurrency model: a single mutex covers both the per-service instance
// lists and the per-service round-robin cursors; every method takes it.
// Pick performs no I/O, so holding the lock across a selection is cheap.
type LoadBalancer struct {
	mu        sync.Mutex
	instances map[string][]*Instance
	cursors   map[string]int
}

// New creates an empty LoadBalancer.
func New() *LoadBalancer {
	return &LoadBalancer{
		instances: make(map[string][]*Instance),
		cursors:   make(map[string]int),
	}
}

// Register adds an instance for service.  weight must be positive; a
// non-positive weight is coerced to 1.  New instances start healthy.
func (lb *LoadBalancer) Register(service, host string, port, weight int) {
	if weight <= 0 {
		weight = 1
	}
	lb.mu.Lock()
	lb.instances[service] = append(lb.instances[service], &Instance{
		Service: service,
		Host:    host,
		Port:    port,
		Weight:  weight,
		Healthy: true,
	})
	lb.cursors[service] = 0
	lb.mu.Unlock()
}

// Deregister removes the instance matching host:port from service, if
// present.
func (lb *LoadBalancer) Deregister(service, host string, port int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	list := lb.instances[service]
	for i, inst := range list {
		if inst.Host == host && inst.Port == port {
			lb.instances[service] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// UpdateHealth marks the instance matching host:port healthy or unhealthy.
// Unknown instances are ignored.
func (lb *LoadBalancer) UpdateHealth(service, host string, port int, healthy bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	for _, inst := range lb.instances[service] {
		if inst.Host == host && inst.Port == port {
			inst.Healthy = healthy
			return
		}
	}
}

// Instances returns a snapshot of the instances registered for service.
// The returned slice holds copies; mutating it does not affect the
// balancer.
func (lb *LoadBalancer) Instances(service string) []Instance {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	out := make([]Instance, 0, len(lb.instances[service]))
	for _, inst := range lb.instances[service] {
		out = append(out, *inst)
	}
	return out
}

// Pick selects a healthy instance of service with the given algorithm and
// returns a copy of it.  It returns ErrNoHealthyInstance when nothing can
// be selected.
func (lb *LoadBalancer) Pick(service, algorithm string) (Instance, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	healthy := healthyOf(lb.instances[service])
	if len(healthy) == 0 {
		return Instance{}, ErrNoHealthyInstance
	}

	switch algorithm {
	case WeightedRoundRobin:
		return *pickWeighted(healthy), nil
	case LeastConnections:
		// No per-instance in-flight counter is maintained; the contract
		// degrades to a uniform random pick among healthy instances.
		return *healthy[rand.Intn(len(healthy))], nil
	default:
		cursor := lb.cursors[service]
		cursor = (cursor + 1) % len(healthy)
		lb.cursors[service] = cursor
		return *healthy[cursor], nil
	}
}

func healthyOf(list []*Instance) []*Instance {
	out := make([]*Instance, 0, len(list))
	for _, inst := range list {
		if inst.Healthy {
			out = append(out, inst)
		}
	}
	return out
}

// pickWeighted draws a uniform integer in [1, totalWeight] and returns the
// first instance whose cumulative weight bound reaches the draw, so an
// instance with weight w is selected with probability w/totalWeight.
func pickWeighted(healthy []*Instance) *Instance {
	total := 0
	for _, inst := range healthy {
		total += inst.Weight
	}
	draw := rand.Intn(total) + 1
	acc := 0
	for _, inst := range healthy {
		acc += inst.Weight
		if draw <= acc {
			return inst
		}
	}
	return healthy[len(healthy)-1]
}
