package balancer

import "sync"

// Registration records one service registration with optional metadata.
type Registration struct {
	Service  string
	Host     string
	Port     int
	Weight   int
	Metadata string
}

// ServiceRegistry records service registrations and mirrors them into a
// LoadBalancer.  The registry is the health checker's source of truth for
// what to probe; the balancer is the consumers' source of truth for what to
// pick.
type ServiceRegistry struct {
	mu       sync.Mutex
	services map[string][]Registration
	lb       *LoadBalancer
}

// NewServiceRegistry creates a registry that mirrors registrations into lb.
func NewServiceRegistry(lb *LoadBalancer) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string][]Registration),
		lb:       lb,
	}
}

// Register records the registration and adds the instance to the balancer.
func (r *ServiceRegistry) Register(service, host string, port, weight int, metadata string) {
	r.mu.Lock()
	r.services[service] = append(r.services[service], Registration{
		Service:  service,
		Host:     host,
		Port:     port,
		Weight:   weight,
		Metadata: metadata,
	})
	r.mu.Unlock()

	r.lb.Register(service, host, port, weight)
}

// Deregister removes the registration and the balancer entry.
func (r *ServiceRegistry) Deregister(service, host string, port int) {
	r.mu.Lock()
	list := r.services[service]
	for i, reg := range list {
		if reg.Host == host && reg.Port == port {
			r.services[service] = append(list[:i], list[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.lb.Deregister(service, host, port)
}

// All returns a snapshot of every registration, keyed by service name.
func (r *ServiceRegistry) All() map[string][]Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]Registration, len(r.services))
	for name, regs := range r.services {
		out[name] = append([]Registration(nil), regs...)
	}
	return out
}
