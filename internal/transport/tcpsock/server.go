// Package tcpsock serves the legacy raw-TCP transport. Only the frozen
// v9 generation speaks it: a one-byte version exchange, then the room
// directory as the first framed payload, then regular frames.
package tcpsock

import (
	"bytes"
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"itemlink.gg/internal/metrics"
	"itemlink.gg/internal/protocol"
	"itemlink.gg/internal/protocol/v9"
	"itemlink.gg/internal/room"
	"itemlink.gg/internal/session"
)

type Server struct {
	sessions *session.Server
	rooms    *room.Registry
	log      *zap.SugaredLogger

	// ReadTimeout bounds the gap between client frames.
	ReadTimeout time.Duration
}

func NewServer(sessions *session.Server, rooms *room.Registry, logger *zap.SugaredLogger) *Server {
	return &Server{
		sessions:    sessions,
		rooms:       rooms,
		log:         logger,
		ReadTimeout: 2 * protocol.PingInterval,
	}
}

// Serve accepts connections until ctx ends or the listener fails.
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
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	metrics.ConnectionsTotal.WithLabelValues("tcp", "v9").Inc()
	metrics.ConnectionsOpen.WithLabelValues("tcp").Inc()
	defer metrics.ConnectionsOpen.WithLabelValues("tcp").Dec()

	if err := s.handshake(conn); err != nil {
		s.log.Debugw("tcp handshake failed", "remote", conn.RemoteAddr(), "err", err)
		_ = conn.Close()
		return
	}
	s.log.Infow("tcp connected", "remote", conn.RemoteAddr())
	s.sessions.Handle(ctx, &tcpConn{conn: conn, readTimeout: s.ReadTimeout})
}

var errVersionMismatch = errors.New("protocol version mismatch")

func (s *Server) handshake(conn net.Conn) error {
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write([]byte{v9.Version}); err != nil {
		return err
	}
	var clientVersion [1]byte
	if _, err := conn.Read(clientVersion[:]); err != nil {
		return err
	}
	if clientVersion[0] != v9.Version {
		return errVersionMismatch
	}
	if err := v9.WriteRoomDirectory(conn, s.rooms.Directory()); err != nil {
		return err
	}
	_ = conn.SetDeadline(time.Time{})
	return nil
}

// tcpConn adapts one accepted connection to session.Conn.
type tcpConn struct {
	conn        net.Conn
	readTimeout time.Duration
}

func (c *tcpConn) Read() (protocol.ClientMessage, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	msg, err := v9.DecodeClientMessage(c.conn)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues("v9").Inc()
		return nil, err
	}
	return msg, nil
}

func (c *tcpConn) Write(msg protocol.ServerMessage) error {
	// Frames are small; buffer so a partial encode never reaches the
	// wire.
	var buf bytes.Buffer
	ok, err := v9.EncodeServerMessage(&buf, msg)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	_, err = c.conn.Write(buf.Bytes())
	return err
}

func (c *tcpConn) Close() error { return c.conn.Close() }

func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
