// Package ipc exposes daemon control via JSON-RPC over a Unix domain
// socket. The CLI is the only intended client.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"tomarr/internal/daemon"
	"tomarr/internal/logging"
)

const serviceName = "Tomarr"

// Server accepts RPC connections on the socket path.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	svc := &service{daemon: d, logger: logging.WithComponent(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName(serviceName, svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logging.WithComponent(logger, "ipc"),
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve accepts connections until the context is cancelled.
func (s *Server) Serve() {
	s.logger.Debug("ipc server listening", logging.String("socket", s.path))
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
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
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
		s.logger.Warn("remove socket failed",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.DatabasePath = status.DatabasePath
	resp.LockPath = status.LockFilePath
	resp.APIAddress = status.APIAddress
	resp.ScheduledJobs = status.ScheduledJobs
	resp.Libraries = status.Libraries
	return nil
}

func (s *service) Scan(req ScanRequest, resp *ScanResponse) error {
	if req.LibraryID != 0 {
		result, err := s.daemon.Scan(s.ctx, req.LibraryID)
		if err != nil {
			return err
		}
		resp.Libraries = 1
		resp.Series = result.Series
		resp.Volumes = result.Volumes
		return nil
	}

	libraries, err := s.daemon.Libraries(s.ctx)
	if err != nil {
		return err
	}
	for _, library := range libraries {
		result, err := s.daemon.Scan(s.ctx, library.ID)
		if err != nil {
			s.logger.Warn("scan failed",
				logging.String(logging.FieldLibrary, library.Name),
				logging.Error(err))
			continue
		}
		resp.Libraries++
		resp.Series += result.Series
		resp.Volumes += result.Volumes
	}
	return nil
}

func (s *service) CheckMissing(_ CheckRequest, resp *CheckResponse) error {
	report, err := s.daemon.CheckMissing(s.ctx)
	if err != nil {
		return err
	}
	fillCheckResponse(resp, report.Monitors, report.Tuples, report.Results, report.Submitted, report.Failures)
	return nil
}

func (s *service) CheckNewVolumes(_ CheckRequest, resp *CheckResponse) error {
	report, err := s.daemon.CheckNewVolumes(s.ctx)
	if err != nil {
		return err
	}
	fillCheckResponse(resp, report.Monitors, report.Tuples, report.Results, report.Submitted, report.Failures)
	return nil
}

func (s *service) ReloadSchedule(_ ReloadScheduleRequest, resp *ReloadScheduleResponse) error {
	if err := s.daemon.ReloadSchedule(); err != nil {
		return err
	}
	resp.Jobs = s.daemon.Status(s.ctx).ScheduledJobs
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Info("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	return nil
}

func fillCheckResponse(resp *CheckResponse, monitors, tuples, results, submitted, failures int) {
	resp.Monitors = monitors
	resp.Tuples = tuples
	resp.Results = results
	resp.Submitted = submitted
	resp.Failures = failures
}
