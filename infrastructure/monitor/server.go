package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"market-maker-twap/infrastructure/logger"
)

// HealthFunc 返回 nil 表示健康
type HealthFunc func() error

// Server 暴露 /metrics 与 /healthz
type Server struct {
	addr   string
	mon    *Monitor
	health HealthFunc
	log    *logger.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewServer 创建指标服务；addr 为空时 Start 不做任何事
func NewServer(addr string, mon *Monitor, health HealthFunc, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{addr: addr, mon: mon, health: health, log: log.Named("metrics")}
}

// Name 组件名
func (s *Server) Name() string { return "metrics-server" }

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.mon.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if s.health != nil {
			if err := s.health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start 监听并在后台服务
func (s *Server) Start(ctx context.Context) error {
	if s.addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.mux(), ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server exited", zap.Error(err))
		}
	}()
	s.log.Info("metrics server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr 实际监听地址（":0" 时有用）
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
