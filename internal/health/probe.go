package health

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// ProberConfig configures a Prober.
type ProberConfig struct {
	Address          string
	Service          string
	CheckTimeout     time.Duration
	CacheTTL         time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
	Logger           *slog.Logger
}

// Prober checks a remote grpc.health.v1 service and caches the answer.
type Prober struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
	timeout time.Duration
	ttl     time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	checkedAt time.Time
	available bool
}

// NewProber creates a client for cfg.Address. No network I/O happens until
// the first check.
func NewProber(cfg ProberConfig) (*Prober, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Second
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = 2 * time.Minute
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = 10 * time.Second
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("create health client for %s: %w", cfg.Address, err)
	}
	return &Prober{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: cfg.Service,
		timeout: cfg.CheckTimeout,
		ttl:     cfg.CacheTTL,
		logger:  cfg.Logger,
	}, nil
}

// Available reports whether the remote service is SERVING. Answers are
// cached for the configured TTL.
func (p *Prober) Available(ctx context.Context) bool {
	p.mu.Lock()
	if !p.checkedAt.IsZero() && time.Since(p.checkedAt) < p.ttl {
		ok := p.available
		p.mu.Unlock()
		return ok
	}
	p.mu.Unlock()

	ok, err := p.Check(ctx)
	if err != nil {
		p.logger.Debug("[HEALTH] probe failed", "service", p.service, "error", err)
	}
	p.record(ok)
	return ok
}

func (p *Prober) record(ok bool) {
	p.mu.Lock()
	p.available = ok
	p.checkedAt = time.Now()
	p.mu.Unlock()
}

// Check performs one uncached health check.
func (p *Prober) Check(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := waitForReady(ctx, p.conn); err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Watch streams serving status changes and refreshes the cache with each.
func (p *Prober) Watch(ctx context.Context) iter.Seq2[bool, error] {
	return func(yield func(bool, error) bool) {
		stream, err := p.client.Watch(ctx, &healthpb.HealthCheckRequest{Service: p.service})
		if err != nil {
			yield(false, fmt.Errorf("watch request failed: %w", err))
			return
		}
		for {
			resp, err := stream.Recv()
			if err != nil {
				if ctx.Err() == nil {
					p.record(false)
					yield(false, fmt.Errorf("watch stream error: %w", err))
				}
				return
			}
			ok := resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
			p.record(ok)
			if !yield(ok, nil) {
				return
			}
		}
	}
}

// Close closes the connection.
func (p *Prober) Close() {
	if err := p.conn.Close(); err != nil {
		p.logger.Warn("failed to close health connection", "error", err)
	}
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}
