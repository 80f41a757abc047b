// Package ws serves the WebSocket transport. Each supported wire
// generation gets its own URL path (/v14, /v15); one WebSocket message
// carries exactly one protocol frame.
package ws

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"itemlink.gg/internal/metrics"
	"itemlink.gg/internal/protocol"
	"itemlink.gg/internal/protocol/v14"
	"itemlink.gg/internal/protocol/v15"
	"itemlink.gg/internal/session"
)

// codec binds a wire generation's encode/decode pair.
type codec struct {
	version string
	decode  func(io.Reader) (protocol.ClientMessage, error)
	encode  func(io.Writer, protocol.ServerMessage) (bool, error)
}

type Server struct {
	sessions *session.Server
	log      *zap.SugaredLogger

	// ReadTimeout bounds the gap between client frames. Clients ping
	// every protocol.PingInterval, so twice that is the default.
	ReadTimeout time.Duration

	upgrader websocket.Upgrader
}

func NewServer(sessions *session.Server, logger *zap.SugaredLogger) *Server {
	return &Server{
		sessions:    sessions,
		log:         logger,
		ReadTimeout: 2 * protocol.PingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler routes each wire generation to its codec. The bare path
// serves the current generation for clients that predate versioned
// paths.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	current := codec{version: "v15", decode: v15.DecodeClientMessage, encode: v15.EncodeServerMessage}
	mux.HandleFunc("/v15", s.serve(current))
	mux.HandleFunc("/v14", s.serve(codec{version: "v14", decode: v14.DecodeClientMessage, encode: v14.EncodeServerMessage}))
	mux.HandleFunc("/", s.serve(current))
	return mux
}

func (s *Server) serve(c codec) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		metrics.ConnectionsTotal.WithLabelValues("ws", c.version).Inc()
		metrics.ConnectionsOpen.WithLabelValues("ws").Inc()
		defer metrics.ConnectionsOpen.WithLabelValues("ws").Dec()

		s.log.Infow("websocket connected", "remote", conn.RemoteAddr(), "version", c.version)
		s.sessions.Handle(r.Context(), &wsConn{
			conn:        conn,
			codec:       c,
			readTimeout: s.ReadTimeout,
		})
	}
}

// wsConn adapts one upgraded connection to session.Conn.
type wsConn struct {
	conn        *websocket.Conn
	codec       codec
	readTimeout time.Duration

	// writeMu guards the gorilla connection, which allows only one
	// concurrent writer.
	writeMu sync.Mutex
}

func (c *wsConn) Read() (protocol.ClientMessage, error) {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		msg, err := c.codec.decode(bytes.NewReader(data))
		if err != nil {
			metrics.DecodeErrors.WithLabelValues(c.codec.version).Inc()
			return nil, err
		}
		return msg, nil
	}
}

func (c *wsConn) Write(msg protocol.ServerMessage) error {
	var buf bytes.Buffer
	ok, err := c.codec.encode(&buf, msg)
	if err != nil {
		return err
	}
	if !ok {
		// This generation has no encoding for msg; skip it rather
		// than emit an empty frame.
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

func (c *wsConn) Close() error { return c.conn.Close() }

func (c *wsConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
