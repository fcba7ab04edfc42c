package transport

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// Connectivity reports whether the instance can reach the network at all.
type Connectivity interface {
	Online() bool
}

// Static is a fixed connectivity answer.
type Static bool

// Online returns the fixed value.
func (s Static) Online() bool { return bool(s) }

// AlwaysOnline is used when no reachability probe is configured.
var AlwaysOnline Connectivity = Static(true)

// DialChecker periodically dials an address and caches whether it succeeded.
// Online never blocks on the network.
type DialChecker struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	online   atomic.Bool
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
	log      *slog.Logger
}

// NewDialChecker creates a checker. It reports online until the first check completes.
func NewDialChecker(addr string, interval, timeout time.Duration) *DialChecker {
	d := &DialChecker{
		addr:     addr,
		interval: interval,
		timeout:  timeout,
		dial:     (&net.Dialer{}).DialContext,
		log:      slog.Default(),
	}
	d.online.Store(true)
	return d
}

// Online returns the last observed reachability.
func (d *DialChecker) Online() bool {
	return d.online.Load()
}

// Check dials once and updates the cached state.
func (d *DialChecker) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := d.dial(ctx, "tcp", d.addr)
	ok := err == nil
	if conn != nil {
		_ = conn.Close()
	}

	if prev := d.online.Swap(ok); prev != ok {
		d.log.Info("Connectivity changed", "addr", d.addr, "online", ok)
	}
	return ok
}

// Start runs checks until ctx is done.
func (d *DialChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Check(ctx)
		}
	}
}
