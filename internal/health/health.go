// Package health provides active health-checking of upstream replicas.
// It periodically probes each replica's health endpoint and updates the
// replica's alive flag so the load balancer skips dead nodes. It is
// independent of the circuit breaker: a breaker reacts to call outcomes, a
// Checker proactively probes idle replicas to recover the pool even when no
// traffic is flowing.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/brightlane/recoguard/internal/loadbalancer"
	"go.uber.org/zap"
)

const (
	defaultCheckInterval = 10 * time.Second
	defaultTimeout       = 3 * time.Second
)

// Checker continuously polls replicas and flips their alive flag.
type Checker struct {
	mu       sync.Mutex
	replicas []*loadbalancer.Replica
	client   *http.Client
	interval time.Duration
	path     string
	log      *zap.SugaredLogger
	cancel   context.CancelFunc
}

// New creates and immediately starts a Checker against path (e.g.
// "/health") appended to each replica's base URL.
func New(replicas []*loadbalancer.Replica, path string, log *zap.SugaredLogger) *Checker {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Checker{
		replicas: replicas,
		client: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		interval: defaultCheckInterval,
		path:     path,
		log:      log,
		cancel:   cancel,
	}
	go c.run(ctx)
	return c
}

// Update swaps in a new replica list without restarting the loop.
func (c *Checker) Update(replicas []*loadbalancer.Replica) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replicas = replicas
}

// Stop cancels the background goroutine.
func (c *Checker) Stop() { c.cancel() }

func (c *Checker) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.checkAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAll(ctx)
		}
	}
}

func (c *Checker) checkAll(ctx context.Context) {
	c.mu.Lock()
	rs := make([]*loadbalancer.Replica, len(c.replicas))
	copy(rs, c.replicas)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range rs {
		wg.Add(1)
		go func(replica *loadbalancer.Replica) {
			defer wg.Done()
			c.checkOne(ctx, replica)
		}(r)
	}
	wg.Wait()
}

func (c *Checker) checkOne(ctx context.Context, r *loadbalancer.Replica) {
	url := r.URL + c.path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.SetAlive(false)
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if r.IsAlive() {
			c.log.Warnw("replica unhealthy", "url", r.URL, "err", err)
		}
		r.SetAlive(false)
		return
	}
	resp.Body.Close()

	alive := resp.StatusCode < 500
	if !r.IsAlive() && alive {
		c.log.Infow("replica recovered", "url", r.URL, "status", resp.StatusCode)
	}
	r.SetAlive(alive)
}
