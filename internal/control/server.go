package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"sync"

	"log/slog"

	"docket/internal/config"
	"docket/internal/logging"
	"docket/internal/system"
)

const socketName = "docket.sock"

// SocketPath reports where the daemon listens for control connections.
func SocketPath(cfg *config.Config) string {
	if cfg == nil {
		return socketName
	}
	return filepath.Join(cfg.Paths.StateDir, socketName)
}

// Server answers control requests over a Unix domain socket.
type Server struct {
	path     string
	logger   *slog.Logger
	listener net.Listener
	rpc      *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the control server at the given socket path. A stale
// socket file from a previous run is replaced.
func NewServer(ctx context.Context, path string, sys *system.System, logger *slog.Logger) (*Server, error) {
	if sys == nil {
		return nil, errors.New("control server requires a system")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "control"))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Docket", &service{sys: sys, ctx: ctx}); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:     path,
		logger:   logger,
		listener: listener,
		rpc:      rpcServer,
		ctx:      serverCtx,
		cancel:   cancel,
	}, nil
}

// Serve accepts control connections until Close is called or the parent
// context ends.
func (s *Server) Serve() {
	s.logger.Debug("control server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("control accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "control_accept_failed"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpc.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove control socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "control_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	sys *system.System
	ctx context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	health := s.sys.Health(s.ctx)
	resp.Running = s.sys.Running()
	resp.PID = os.Getpid()
	resp.Ready = health.Ready
	resp.Components = make([]ComponentHealth, 0, len(health.Components))
	for _, component := range health.Components {
		resp.Components = append(resp.Components, ComponentHealth{
			Name:   component.Name,
			Ready:  component.Ready,
			Detail: component.Detail,
		})
	}
	if keys, err := s.sys.Store().Keys(s.ctx); err == nil {
		resp.Checkpoints = keys
	}
	return nil
}

func (s *service) Stats(_ StatsRequest, resp *StatsResponse) error {
	resp.Stats = s.sys.Stats()
	return nil
}
