// Package server owns the TCP accept loop for one configured listener:
// rate-limiting new connections per source IP and spawning a
// Connection (the per-client RequestOrchestrator) for each one accepted.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/cppla/cql-dualproxy/internal/config"
	"github.com/cppla/cql-dualproxy/internal/metrics"
	"github.com/cppla/cql-dualproxy/internal/orchestrator"
)

// maxRequestsPerWindow and ipWindow bound how many new connections one
// client IP may open in a rolling window before being turned away.
const (
	maxRequestsPerWindow = 200
	ipWindow             = 30 * time.Second
	ipWindowCleanup      = 1 * time.Minute
)

// Listen starts Threads independent accept loops for one configured
// Listener, each sharing the same IP-rate-limit cache, and blocks until
// all of them return (which only happens once ctx is done and Accept
// fails). It returns at once, without starting any, if the TLS keypair
// cannot be loaded or the port cannot be listened on.
func Listen(ctx context.Context, l *config.Listener, logger *zap.Logger, mh metrics.Handle, wg *sync.WaitGroup) {
	defer wg.Done()

	addr := fmt.Sprintf(":%d", l.ProxyPort)
	var tlsCfg *tls.Config
	if l.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(l.TLSCert, l.TLSKey)
		if err != nil {
			logger.Error("failed to load TLS keypair", zap.String("listener", l.Name), zap.Error(err))
			return
		}
		tlsCfg = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	var listener net.Listener
	var err error
	if tlsCfg != nil {
		listener, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		logger.Error("failed to listen", zap.String("listener", l.Name), zap.String("addr", addr), zap.Error(err))
		return
	}
	logger.Info("listening", zap.String("listener", l.Name), zap.String("addr", addr))

	ipLimiter := cache.New(ipWindow, ipWindowCleanup)

	threads := l.Threads
	if threads <= 0 {
		threads = 1
	}
	var accepters sync.WaitGroup
	for i := 0; i < threads; i++ {
		accepters.Add(1)
		go acceptLoop(ctx, listener, l, logger, mh, ipLimiter, &accepters)
	}
	accepters.Wait()
}

// acceptLoop is one of Threads concurrent accepters sharing the same
// net.Listener (mirrors the teacher's single accept loop per rule,
// generalised to let several goroutines Accept off the same fd). Each
// accepted connection is served, upstream dials included, in its own
// goroutine.
func acceptLoop(ctx context.Context, listener net.Listener, l *config.Listener, logger *zap.Logger, mh metrics.Handle, ipLimiter *cache.Cache, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			logger.Error("accept failed", zap.String("listener", l.Name), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		clientIP := hostOnly(conn.RemoteAddr().String())
		if rateLimited(ipLimiter, clientIP) {
			logger.Warn("too many connections, rejecting", zap.String("listener", l.Name), zap.String("ip", clientIP))
			_ = conn.Close()
			continue
		}

		go serveOne(ctx, conn, l, logger, mh)
	}
}

func serveOne(ctx context.Context, conn net.Conn, l *config.Listener, logger *zap.Logger, mh metrics.Handle) {
	connLogger := logger.With(zap.String("listener", l.Name), zap.String("client", conn.RemoteAddr().String()))
	c, err := orchestrator.New(ctx, conn, l, connLogger, mh)
	if err != nil {
		connLogger.Error("failed to establish upstream links", zap.Error(err))
		_ = conn.Close()
		return
	}
	c.Serve()
}

func rateLimited(ipLimiter *cache.Cache, clientIP string) bool {
	if count, found := ipLimiter.Get(clientIP); found {
		if count.(int) >= maxRequestsPerWindow {
			return true
		}
		_ = ipLimiter.Increment(clientIP, 1)
		return false
	}
	ipLimiter.Set(clientIP, 1, cache.DefaultExpiration)
	return false
}

func hostOnly(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}
