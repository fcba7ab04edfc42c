package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCProber runs the standard grpc.health.v1 check against grpc://host:port/service
// (or grpcs:// for TLS). The service path segment is optional.
type GRPCProber struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewGRPCProber() *GRPCProber {
	return &GRPCProber{conns: make(map[string]*grpc.ClientConn)}
}

// IsGRPCTarget reports whether target uses a gRPC scheme.
func IsGRPCTarget(target string) bool {
	return strings.HasPrefix(target, "grpc://") || strings.HasPrefix(target, "grpcs://")
}

func parseGRPCTarget(target string) (addr, service string, useTLS bool, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", false, err
	}
	if u.Host == "" {
		return "", "", false, fmt.Errorf("missing host in %q", target)
	}
	return u.Host, strings.Trim(u.Path, "/"), u.Scheme == "grpcs", nil
}

func (p *GRPCProber) conn(addr string, useTLS bool) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := addr
	if useTLS {
		key = "tls:" + addr
	}
	if c, ok := p.conns[key]; ok {
		return c, nil
	}

	var opts []grpc.DialOption
	if useTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	c, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}
	p.conns[key] = c
	return c, nil
}

func (p *GRPCProber) Probe(ctx context.Context, target string) error {
	addr, service, useTLS, err := parseGRPCTarget(target)
	if err != nil {
		return &ProbeError{Err: err}
	}
	c, err := p.conn(addr, useTLS)
	if err != nil {
		return &ProbeError{Err: err}
	}

	resp, err := healthpb.NewHealthClient(c).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		switch status.Code(err) {
		case codes.DeadlineExceeded:
			return &ProbeError{Err: err, TimedOut: true}
		case codes.Unavailable:
			return &ProbeError{Err: fmt.Errorf("endpoint unreachable: %w", err)}
		default:
			// The server answered with an error (e.g. NotFound for an unknown service).
			return &ProbeError{Reached: true, Err: err}
		}
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return &ProbeError{Reached: true, Err: fmt.Errorf("service status %s", resp.GetStatus())}
	}
	return nil
}

// Close closes cached connections.
func (p *GRPCProber) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for k, c := range p.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, k)
	}
	return firstErr
}
