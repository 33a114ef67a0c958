package toolserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/toolrun/internal/auth"
	"github.com/danmuck/toolrun/internal/remote"
	"github.com/rs/zerolog/log"
)

// Service runs the control listener and the optional HTTP surface for one Server.
type Service struct {
	cfg    Config
	server *Server
}

// NewService builds a service over a fresh Server.
func NewService(cfg Config) (*Service, error) {
	srv, err := NewServer(cfg, nil)
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, server: srv}, nil
}

func (s *Service) Server() *Server {
	return s.server
}

// Run blocks until ctx ends or a listener fails, then stops running tools.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(s.cfg.ControlAddr))
	if err != nil {
		return err
	}
	var httpLn net.Listener
	if addr := strings.TrimSpace(s.cfg.HTTPAddr); addr != "" {
		httpLn, err = net.Listen("tcp", addr)
		if err != nil {
			_ = ln.Close()
			return err
		}
	}
	return s.Serve(ctx, ln, httpLn)
}

// Serve runs on pre-bound listeners. httpLn may be nil.
func (s *Service) Serve(ctx context.Context, controlLn, httpLn net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.server.Shutdown()

	log.Info().Msgf(
		"toolserver.Service.Run server=%q environments=%d current=%q",
		s.cfg.ServerID, len(s.cfg.Environments), s.server.Current(),
	)

	controlErr := make(chan error, 1)
	go func() {
		controlErr <- remote.Serve(ctx, controlLn, s.server, remote.ServeConfig{
			IdleTimeout: s.cfg.IdleTimeout,
			Limiter:     remote.NewKeyedLimiter(s.cfg.RatePerSecond, s.cfg.RateBurst),
			Auth:        auth.FromToken(s.cfg.AuthToken),
		})
	}()

	httpErr := make(chan error, 1)
	var httpSrv *http.Server
	if httpLn != nil {
		httpSrv = &http.Server{
			Handler:           s.server.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Msgf("toolserver.Service.Run http listening addr=%q", httpLn.Addr().String())
		go func() {
			if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
				return
			}
			httpErr <- nil
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-controlErr:
		controlErr <- nil
	case runErr = <-httpErr:
		httpErr <- nil
	}
	cancel()

	if httpSrv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(shutdownCtx)
		stop()
		<-httpErr
	}
	<-controlErr
	return runErr
}
