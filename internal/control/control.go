// Package control serves the operator side channel: newline-delimited
// JSON commands over a local unix socket, independent of the client
// wire protocol. It observes the room registry and never mutates room
// state; the one exception is scheduling a maintenance notice, which
// only broadcasts a message.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"itemlink.gg/internal/protocol"
	"itemlink.gg/internal/room"
)

// Commands understood by the channel.
const (
	CmdStop              = "stop"
	CmdStopWhenEmpty     = "stop_when_empty"
	CmdWaitUntilEmpty    = "wait_until_empty"
	CmdWaitUntilInactive = "wait_until_inactive"
	CmdMaintenance       = "maintenance"
)

// Command is one operator request, one JSON object per line.
type Command struct {
	Command string `json:"command"`
	// Maintenance window, for CmdMaintenance only.
	Start        int64 `json:"start,omitempty"` // unix seconds
	DurationSecs int64 `json:"duration_secs,omitempty"`
}

// Reply is one server response line. wait_until_inactive streams
// active_rooms replies and finishes with inactive; everything else
// answers with a single ok or error.
type Reply struct {
	Type        string       `json:"type"` // ok | error | active_rooms | inactive
	Error       string       `json:"error,omitempty"`
	ActiveRooms []ActiveRoom `json:"active_rooms,omitempty"`
}

// ActiveRoom is one row of a wait_until_inactive progress report.
type ActiveRoom struct {
	Name      string    `json:"name"`
	LastSaved time.Time `json:"last_saved"`
	Players   int       `json:"players"`
}

// ActivityWindow is how recently a room must have saved to count as
// active for drain purposes.
const ActivityWindow = time.Hour

type Server struct {
	log   *zap.SugaredLogger
	rooms *room.Registry
	// stop initiates process shutdown.
	stop func()
}

func NewServer(logger *zap.SugaredLogger, rooms *room.Registry, stop func()) *Server {
	return &Server{log: logger, rooms: rooms, stop: stop}
}

// Serve accepts operator connections until ctx ends.
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
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer context.AfterFunc(ctx, func() { _ = conn.Close() })()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var cmd Command
		if err := dec.Decode(&cmd); err != nil {
			return
		}
		s.log.Infow("control command", "command", cmd.Command)
		if err := s.handle(ctx, enc, cmd); err != nil {
			return
		}
	}
}

// errStopping closes the operator connection after a stop command.
var errStopping = errors.New("shutting down")

func (s *Server) handle(ctx context.Context, enc *json.Encoder, cmd Command) error {
	switch cmd.Command {
	case CmdStop:
		if err := enc.Encode(Reply{Type: "ok"}); err != nil {
			return err
		}
		s.stop()
		return errStopping
	case CmdStopWhenEmpty:
		if err := s.rooms.WaitUntilEmpty(ctx); err != nil {
			return enc.Encode(Reply{Type: "error", Error: err.Error()})
		}
		if err := enc.Encode(Reply{Type: "ok"}); err != nil {
			return err
		}
		s.stop()
		return errStopping
	case CmdWaitUntilEmpty:
		if err := s.rooms.WaitUntilEmpty(ctx); err != nil {
			return enc.Encode(Reply{Type: "error", Error: err.Error()})
		}
		return enc.Encode(Reply{Type: "ok"})
	case CmdWaitUntilInactive:
		report := func(active []room.RoomActivity) {
			rows := make([]ActiveRoom, len(active))
			for i, a := range active {
				rows[i] = ActiveRoom{Name: a.Name, LastSaved: a.LastSaved, Players: a.Players}
			}
			_ = enc.Encode(Reply{Type: "active_rooms", ActiveRooms: rows})
		}
		if err := s.rooms.WaitUntilInactive(ctx, ActivityWindow, report); err != nil {
			return enc.Encode(Reply{Type: "error", Error: err.Error()})
		}
		return enc.Encode(Reply{Type: "inactive"})
	case CmdMaintenance:
		if cmd.Start <= 0 || cmd.DurationSecs <= 0 {
			return enc.Encode(Reply{Type: "error", Error: "maintenance requires start and duration_secs"})
		}
		s.rooms.BroadcastAll(protocol.MaintenanceNotice{
			Start:    time.Unix(cmd.Start, 0),
			Duration: time.Duration(cmd.DurationSecs) * time.Second,
		})
		return enc.Encode(Reply{Type: "ok"})
	default:
		return enc.Encode(Reply{Type: "error", Error: "unknown command " + cmd.Command})
	}
}
