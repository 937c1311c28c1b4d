// Package client is a JSON-RPC client for fundraiser nodes.
//
// Requests go to one of a pool of node endpoints. Transport failures mark
// an endpoint unhealthy and the next call moves on to another one; RPC
// errors returned by a node are not endpoint health issues.
package client

import (
	"context"
	"sync"
	"time"
)

// Endpoint represents a node endpoint with health tracking.
type Endpoint struct {
	URL         string
	Healthy     bool
	LastError   error
	LastSuccess time.Time
	Latency     time.Duration
}

// Pool hands out node endpoints.
type Pool interface {
	// GetEndpoint returns an endpoint for the next request.
	GetEndpoint(ctx context.Context) (*Endpoint, error)

	// MarkUnhealthy marks an endpoint as unhealthy after a failed request.
	MarkUnhealthy(url string, err error)

	// MarkHealthy marks an endpoint as healthy after a successful request.
	MarkHealthy(url string, latency time.Duration)

	// GetHealthyCount returns the number of currently healthy endpoints.
	GetHealthyCount() int
}

// RoundRobinPool rotates over its endpoints, skipping unhealthy ones.
type RoundRobinPool struct {
	endpoints []*Endpoint
	mu        sync.RWMutex
	idx       int
}

// NewRoundRobinPool creates a pool over urls. All endpoints start healthy.
func NewRoundRobinPool(urls []string) *RoundRobinPool {
	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		endpoints[i] = &Endpoint{
			URL:     url,
			Healthy: true,
		}
	}
	return &RoundRobinPool{
		endpoints: endpoints,
	}
}

// GetEndpoint returns the next healthy endpoint. When every endpoint is
// unhealthy the first one is returned so a recovered node is picked up.
func (p *RoundRobinPool) GetEndpoint(ctx context.Context) (*Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.endpoints); i++ {
		idx := (p.idx + i) % len(p.endpoints)
		ep := p.endpoints[idx]
		if ep.Healthy {
			p.idx = (idx + 1) % len(p.endpoints)
			return ep, nil
		}
	}

	if len(p.endpoints) > 0 {
		return p.endpoints[0], nil
	}
	return nil, ErrNoEndpoints
}

// MarkUnhealthy marks an endpoint as unhealthy.
func (p *RoundRobinPool) MarkUnhealthy(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ep := p.find(url); ep != nil {
		ep.Healthy = false
		ep.LastError = err
	}
}

// MarkHealthy marks an endpoint as healthy.
func (p *RoundRobinPool) MarkHealthy(url string, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ep := p.find(url); ep != nil {
		ep.Healthy = true
		ep.LastSuccess = time.Now()
		ep.Latency = latency
		ep.LastError = nil
	}
}

// GetHealthyCount returns the number of healthy endpoints.
func (p *RoundRobinPool) GetHealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, ep := range p.endpoints {
		if ep.Healthy {
			count++
		}
	}
	return count
}

// Endpoints returns a copy of the endpoint states.
func (p *RoundRobinPool) Endpoints() []Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Endpoint, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = *ep
	}
	return out
}

func (p *RoundRobinPool) find(url string) *Endpoint {
	for _, ep := range p.endpoints {
		if ep.URL == url {
			return ep
		}
	}
	return nil
}
