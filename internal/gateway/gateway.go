package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const shutdownTimeout = 5 * time.Second

// ServiceName is the gRPC health service name reported for the relay.
const ServiceName = "camrelay.Relay"

// Options configure the gateway listeners.
type Options struct {
	// Listen is the HTTP/WebSocket listen address.
	Listen string
	// GRPCListen enables the gRPC health listener when non-empty.
	GRPCListen string
}

// ListenerInfo represents a single listener started by the gateway.
type ListenerInfo struct {
	Scheme  string
	Address string
	Port    int
}

// Info summarises the listeners exposed by the gateway.
type Info struct {
	HTTP ListenerInfo
	GRPC *ListenerInfo
}

// Gateway orchestrates the HTTP listener and the optional gRPC health listener.
type Gateway struct {
	handler http.Handler
	opts    Options

	mu           sync.RWMutex
	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener
	health       *health.Server
	errCh        chan error
	wg           sync.WaitGroup
	info         Info
}

// New constructs a Gateway serving handler.
func New(handler http.Handler, opts Options) *Gateway {
	return &Gateway{handler: handler, opts: opts}
}

// Start launches the listeners. It must not be called concurrently with Shutdown.
func (g *Gateway) Start(ctx context.Context) (*Info, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.httpListener != nil {
		return nil, fmt.Errorf("gateway: already started")
	}

	httpListener, err := net.Listen("tcp", g.opts.Listen)
	if err != nil {
		return nil, fmt.Errorf("gateway: listen http: %w", err)
	}

	var (
		grpcListener net.Listener
		grpcServer   *grpc.Server
		healthServer *health.Server
	)
	if g.opts.GRPCListen != "" {
		grpcListener, err = net.Listen("tcp", g.opts.GRPCListen)
		if err != nil {
			_ = httpListener.Close()
			return nil, fmt.Errorf("gateway: listen grpc: %w", err)
		}
		grpcServer = grpc.NewServer()
		healthServer = health.NewServer()
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcServer, healthServer)
	}

	httpServer := &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.httpServer = httpServer
	g.httpListener = httpListener
	g.grpcServer = grpcServer
	g.grpcListener = grpcListener
	g.health = healthServer
	g.errCh = make(chan error, 2)
	g.info = Info{
		HTTP: ListenerInfo{
			Scheme:  "http",
			Address: httpListener.Addr().String(),
			Port:    listenerPort(httpListener),
		},
	}
	if grpcListener != nil {
		g.info.GRPC = &ListenerInfo{
			Scheme:  "grpc",
			Address: grpcListener.Addr().String(),
			Port:    listenerPort(grpcListener),
		}
	}
	errCh := g.errCh

	g.wg.Add(1)
	go g.serveHTTP(ctx, httpServer, httpListener)
	if grpcServer != nil {
		g.wg.Add(1)
		go g.serveGRPC(ctx, grpcServer, grpcListener)
	}

	go func(ch chan error) {
		g.wg.Wait()
		close(ch)
	}(errCh)

	infoCopy := g.info
	return &infoCopy, nil
}

func (g *Gateway) serveHTTP(ctx context.Context, server *http.Server, listener net.Listener) {
	defer g.wg.Done()

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			g.pushError(err)
		}
	})
	defer stop()

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		g.pushError(err)
	}
}

func (g *Gateway) serveGRPC(ctx context.Context, grpcServer *grpc.Server, listener net.Listener) {
	defer g.wg.Done()

	stop := context.AfterFunc(ctx, func() {
		stopGRPC(grpcServer)
	})
	defer stop()

	if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, grpc.ErrServerStopped) && status.Code(err) != codes.Canceled {
		g.pushError(err)
	}
}

func stopGRPC(grpcServer *grpc.Server) {
	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		grpcServer.Stop()
	}
}

func (g *Gateway) pushError(err error) {
	if err == nil {
		return
	}
	g.mu.RLock()
	ch := g.errCh
	g.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// Shutdown stops all listeners and waits for goroutines to exit.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	httpServer := g.httpServer
	grpcServer := g.grpcServer
	healthServer := g.health
	errCh := g.errCh
	g.httpServer = nil
	g.httpListener = nil
	g.grpcServer = nil
	g.grpcListener = nil
	g.health = nil
	g.errCh = nil
	g.mu.Unlock()

	if httpServer == nil {
		return nil
	}

	if healthServer != nil {
		healthServer.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if grpcServer != nil {
		stopGRPC(grpcServer)
	}

	g.wg.Wait()

	if errCh != nil {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		default:
		}
	}

	return nil
}

// Errors exposes the gateway error channel (closed when the gateway stops).
func (g *Gateway) Errors() <-chan error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.errCh == nil {
		ch := make(chan error)
		close(ch)
		return ch
	}
	return g.errCh
}

// Info returns the last known listener info.
func (g *Gateway) Info() Info {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.info
}

func listenerPort(l net.Listener) int {
	if tcp, ok := l.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
