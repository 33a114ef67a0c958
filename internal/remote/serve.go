package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/toolrun/internal/auth"
	"github.com/danmuck/toolrun/internal/runner"
	"github.com/rs/zerolog/log"
)

// Handler answers decoded control requests.
type Handler interface {
	Handle(ctx context.Context, req Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// ServeConfig tunes the control listener.
type ServeConfig struct {
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	Limiter      *KeyedLimiter
	// Auth validates Request.Token; nil accepts every request.
	Auth         auth.Validator
}

func (c ServeConfig) withDefaults() ServeConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	return c
}

// ListenAndServe listens on addr and serves until ctx ends.
func ListenAndServe(ctx context.Context, addr string, h Handler, cfg ServeConfig) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	return Serve(ctx, ln, h, cfg)
}

// Serve accepts control connections on ln until ctx ends. It closes ln and
// waits for open connections before returning.
func Serve(ctx context.Context, ln net.Listener, h Handler, cfg ServeConfig) error {
	cfg = cfg.withDefaults()
	defer ln.Close()
	log.Info().Msgf("remote.Serve listening addr=%q", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var (
		wg     sync.WaitGroup
		active atomic.Int64
	)
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(ctx, conn, h, cfg, &active)
		}()
	}
}

// serveConn decodes one request per line and writes one response per line.
func serveConn(ctx context.Context, conn net.Conn, h Handler, cfg ServeConfig, active *atomic.Int64) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	key := PeerKey(conn.RemoteAddr())
	log.Debug().Msgf("remote.Serve client connected remote=%q active_clients=%d", remote, active.Add(1))
	defer func() {
		log.Debug().Msgf("remote.Serve client disconnected remote=%q active_clients=%d", remote, active.Add(-1))
	}()

	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Warn().Msgf("remote.Serve read remote=%q err=%v", remote, err)
			}
			return
		}

		var resp Response
		var req Request
		switch {
		case !cfg.Limiter.Allow(key):
			resp = Fail(runner.CodeRejected, "rate limit exceeded")
			log.Warn().Msgf("remote.Serve rate limited remote=%q", remote)
		case json.Unmarshal(line, &req) != nil:
			resp = Fail(runner.CodeRejected, "malformed request")
		case cfg.Auth != nil && cfg.Auth.Validate(req.Token) != nil:
			resp = Fail(runner.CodeRejected, "unauthorized")
			log.Warn().Msgf("remote.Serve unauthorized remote=%q action=%q", remote, req.Action)
		default:
			resp = h.Handle(ctx, req)
		}

		_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
		if err := writeLine(conn, resp); err != nil {
			log.Warn().Msgf("remote.Serve write remote=%q err=%v", remote, err)
			return
		}
	}
}
