package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/melibackend/offline-inventory/internal/utils"
)

// HealthChecker reports whether the remote backend answered a health probe
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Prober feeds the monitor from periodic health checks. It stands in for the
// platform network signal and is just as advisory.
type Prober struct {
	monitor  *Monitor
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewProber creates a prober; a non-positive interval disables probing
func NewProber(monitor *Monitor, checker HealthChecker, interval, timeout time.Duration, logger *slog.Logger) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		monitor:  monitor,
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		logger:   utils.OrDefault(logger),
	}
}

// ProbeOnce runs a single check and updates the monitor
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.checker.HealthCheck(ctx)
	online := err == nil
	if err != nil {
		p.logger.Debug("Health probe failed", "error", err)
	}
	p.monitor.SetOnline(online)
	return online
}

// Start launches the probe loop
func (p *Prober) Start(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("Connectivity probing disabled")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopChan != nil {
		return
	}
	p.stopChan = make(chan struct{})

	p.wg.Add(1)
	go p.run(ctx, p.stopChan)
	p.logger.Info("Connectivity prober started", "interval", p.interval)
}

// Stop ends the probe loop and waits for it to exit
func (p *Prober) Stop() {
	p.mu.Lock()
	if p.stopChan == nil {
		p.mu.Unlock()
		return
	}
	close(p.stopChan)
	p.stopChan = nil
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Prober) run(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.ProbeOnce(ctx)
	for {
		select {
		case <-ticker.C:
			p.ProbeOnce(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
