package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/whamcloud/lustre-fleet/pkg/log"
	"github.com/whamcloud/lustre-fleet/pkg/wire"
)

// AgentHandler processes a decoded AgentToManager frame from a
// connected host. The Fqdn passed is the one carried by the session's
// first frame, not necessarily msg.Fqdn on every call (Data frames
// reuse it without repeating it).
type AgentHandler interface {
	HandleFrame(ctx context.Context, fqdn string, msg wire.AgentToManager) error
}

// Server accepts Framed agent connections and routes decoded frames to
// an AgentHandler, tracking one live connection per host Fqdn so it can
// also serve as a pkg/dispatch Sender.
type Server struct {
	handler AgentHandler
	logger  zerolog.Logger

	mu    sync.Mutex
	conns map[string]*Framed
}

// NewServer constructs a Server dispatching decoded frames to handler.
func NewServer(handler AgentHandler) *Server {
	return &Server{
		handler: handler,
		logger:  log.WithComponent("transport"),
		conns:   map[string]*Framed{},
	}
}

// Serve accepts connections from ln until ctx is cancelled or Accept
// fails. Each connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	framed := NewFramed(conn)
	defer framed.Close()

	var fqdn string
	defer func() {
		if fqdn != "" {
			s.unregister(fqdn)
		}
	}()

	for {
		payload, err := framed.ReadFrame()
		if err != nil {
			if fqdn != "" {
				s.logger.Info().Str("fqdn", fqdn).Err(err).Msg("agent connection closed")
			}
			return
		}

		var msg wire.AgentToManager
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Error().Err(err).Msg("discarding malformed agent frame")
			continue
		}

		if fqdn == "" {
			fqdn = msg.Fqdn
			if fqdn == "" {
				s.logger.Error().Msg("first frame on connection carried no fqdn, closing")
				return
			}
			s.register(fqdn, framed)
		}

		if err := s.handler.HandleFrame(ctx, fqdn, msg); err != nil {
			s.logger.Error().Err(err).Str("fqdn", fqdn).Msg("agent frame handler failed")
		}
	}
}

func (s *Server) register(fqdn string, framed *Framed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[fqdn] = framed
}

func (s *Server) unregister(fqdn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, fqdn)
}

// SendToHost implements pkg/dispatch's Sender interface: it writes frame
// to the host's currently registered connection, if any.
func (s *Server) SendToHost(fqdn string, frame []byte) error {
	s.mu.Lock()
	framed, ok := s.conns[fqdn]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no active session for host %q", fqdn)
	}
	return framed.WriteFrame(frame)
}
