// Package gateway serves the dashboard API: JSON endpoints for the session
// and a WebSocket stream of snapshots.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/eventlog"
	"github.com/mil-ad/blemanager/internal/watchdog"
)

// Config controls the listener.
type Config struct {
	Enabled        bool   `yaml:"enabled"`
	Addr           string `yaml:"addr"`
	RequestsPerMin int    `yaml:"requests_per_min"`
	Burst          int    `yaml:"burst"`
	MDNS           bool   `yaml:"mdns"`
	MDNSName       string `yaml:"mdns_name"`
}

// Session is the connection state the gateway reads and drives.
type Session interface {
	Snapshot() ble.Snapshot
	Subscribe() (<-chan ble.Snapshot, func())
	ScanForDevices(ctx context.Context) error
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context) error
	ClearError()
}

// Reporter exposes the latest watchdog report.
type Reporter interface {
	Last() (watchdog.Report, bool)
}

// Info describes the running service.
type Info struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Backend   string    `json:"backend"`
	Adapter   string    `json:"adapter,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Supported bool      `json:"supported"`
}

// Options carries optional collaborators.
type Options struct {
	Logger   *slog.Logger
	Events   *eventlog.Log
	Watchdog Reporter
	Info     Info
}

type clientConn struct {
	ws        *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server is the HTTP and WebSocket gateway.
type Server struct {
	cfg      Config
	session  Session
	events   *eventlog.Log
	watchdog Reporter
	info     Info
	logger   *slog.Logger

	clients   sync.Map // connID (uint64) -> *clientConn
	nextID    atomic.Uint64
	httpSrv   *http.Server
	boundAddr string

	// ops tracks fire-and-forget operations started by POST requests.
	ops   sync.WaitGroup
	opCtx context.Context
	stop  context.CancelFunc
}

// NewServer creates a gateway server.
func NewServer(cfg Config, session Session, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8099"
	}
	opCtx, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		session:  session,
		events:   opts.Events,
		watchdog: opts.Watchdog,
		info:     opts.Info,
		logger:   logger,
		opCtx:    opCtx,
		stop:     stop,
	}
}

// Handler returns the routed, rate-limited handler. ctx bounds the limiter
// cleanup goroutine.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleUpgrade)
	s.registerAPI(mux)

	limit := RateLimit(ctx, RateLimitConfig{RequestsPerMin: s.cfg.RequestsPerMin, Burst: s.cfg.Burst})
	return limit(mux)
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: s.Handler(ctx), ReadHeaderTimeout: 10 * time.Second}

	if s.cfg.MDNS {
		port := listener.Addr().(*net.TCPAddr).Port
		shutdown, err := Advertise(s.cfg.MDNSName, port, s.info)
		if err != nil {
			s.logger.Warn("mdns advertisement failed", "error", err)
		} else {
			defer shutdown()
			s.logger.Info("advertising dashboard over mdns", "service", mdnsServiceType, "port", port)
		}
	}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes WebSocket clients, cancels background operations and shuts
// the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})
	s.stop()
	s.ops.Wait()

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual listen address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// background runs op without making the HTTP caller wait for it. The
// session records any failure as its last error.
func (s *Server) background(name string, op func(ctx context.Context) error) {
	s.ops.Add(1)
	go func() {
		defer s.ops.Done()
		if err := op(s.opCtx); err != nil {
			s.logger.Debug("gateway operation failed", "op", name, "error", err)
		}
	}()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{ws: ws, done: make(chan struct{})}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID)

	// Clients only listen; CloseRead handles control frames and reports
	// when the peer goes away.
	ctx := ws.CloseRead(r.Context())
	s.writeLoop(ctx, cc)

	cc.close()
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

// writeLoop pushes every snapshot to the client. Slow clients skip
// intermediate states rather than queueing them.
func (s *Server) writeLoop(ctx context.Context, cc *clientConn) {
	snaps, unsubscribe := s.session.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cc.done:
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, cc.ws, snap)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
