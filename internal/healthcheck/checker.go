package healthcheck

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Checker probes the executor backends (inference, export, notification
// services) so the dispatcher can skip task types whose backend is down
// instead of burning retry attempts against it.
type Checker struct {
	mu           sync.RWMutex
	backends     map[string]string // name -> health probe URL
	healthStatus map[string]*Status
	interval     time.Duration
	timeout      time.Duration
	maxFailures  int
	stopChan     chan struct{}
	running      bool
}

type Config struct {
	Backends    map[string]string // name -> full health probe URL
	Interval    time.Duration     // How often to check (default: 10s)
	Timeout     time.Duration     // Request timeout (default: 5s)
	MaxFailures int               // Failures before marking unhealthy (default: 3)
}

func NewChecker(cfg *Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}

	checker := &Checker{
		backends:     cfg.Backends,
		healthStatus: make(map[string]*Status),
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		maxFailures:  cfg.MaxFailures,
		stopChan:     make(chan struct{}),
	}

	// Assume healthy until a probe says otherwise
	for name, url := range cfg.Backends {
		checker.healthStatus[name] = &Status{
			Name:      name,
			URL:       url,
			IsHealthy: true,
			LastCheck: time.Now(),
		}
	}

	return checker
}

// Start begins periodic probes
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	log.Printf("Starting health checks for %d backends (interval: %v)", len(c.backends), c.interval)

	c.checkAll()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.checkAll()
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
	}
}

func (c *Checker) checkAll() {
	var wg sync.WaitGroup

	for name, url := range c.backends {
		wg.Add(1)
		go func(n, u string) {
			defer wg.Done()
			c.checkBackend(n, u)
		}(name, url)
	}

	wg.Wait()
}

func (c *Checker) checkBackend(name, probeURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", probeURL, nil)
	if err != nil {
		c.recordFailure(name)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.recordFailure(name)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.recordSuccess(name)
	} else {
		c.recordFailure(name)
	}
}

func (c *Checker) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.healthStatus[name]
	status.LastCheck = time.Now()
	status.LastSuccess = time.Now()
	status.FailureCount = 0

	if !status.IsHealthy {
		log.Printf("Backend %s is now healthy", name)
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.healthStatus[name]
	status.LastCheck = time.Now()
	status.LastFailure = time.Now()
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		log.Printf("Backend %s is now unhealthy (failures: %d)", name, status.FailureCount)
		status.IsHealthy = false
	}
}

// IsHealthy reports the last probed state for one backend. Unknown
// backends count as healthy so a missing probe config never stalls jobs.
func (c *Checker) IsHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status, ok := c.healthStatus[name]
	if !ok {
		return true
	}
	return status.IsHealthy
}

// Statuses returns a snapshot of all backend states
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.healthStatus))
	for _, status := range c.healthStatus {
		out = append(out, *status)
	}
	return out
}
