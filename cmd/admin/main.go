// Command admin is the operator CLI. It speaks the control channel
// over the server's unix socket, plus a local "rooms" inspection
// command that reads the sqlite store directly.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"itemlink.gg/internal/control"
	"itemlink.gg/internal/persistence/roomdb"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "stop":
			controlCmd(os.Args[2:], control.Command{Command: control.CmdStop})
			return
		case "stop-when-empty":
			controlCmd(os.Args[2:], control.Command{Command: control.CmdStopWhenEmpty})
			return
		case "wait-until-empty":
			controlCmd(os.Args[2:], control.Command{Command: control.CmdWaitUntilEmpty})
			return
		case "wait-until-inactive":
			controlCmd(os.Args[2:], control.Command{Command: control.CmdWaitUntilInactive})
			return
		case "maintenance":
			maintenanceCmd(os.Args[2:])
			return
		case "rooms":
			roomsCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <stop|stop-when-empty|wait-until-empty|wait-until-inactive|maintenance|rooms> [flags]")
	os.Exit(2)
}

func controlCmd(args []string, cmd control.Command) {
	fs := flag.NewFlagSet(cmd.Command, flag.ExitOnError)
	socket := fs.String("socket", "/tmp/itemlink-control.sock", "control socket path")
	_ = fs.Parse(args)
	runControl(*socket, cmd)
}

func maintenanceCmd(args []string) {
	fs := flag.NewFlagSet("maintenance", flag.ExitOnError)
	socket := fs.String("socket", "/tmp/itemlink-control.sock", "control socket path")
	start := fs.String("start", "", "maintenance start (RFC 3339; default now)")
	duration := fs.Duration("duration", 30*time.Minute, "maintenance duration")
	_ = fs.Parse(args)

	startAt := time.Now()
	if *start != "" {
		var err error
		if startAt, err = time.Parse(time.RFC3339, *start); err != nil {
			fmt.Fprintln(os.Stderr, "bad -start:", err)
			os.Exit(2)
		}
	}
	runControl(*socket, control.Command{
		Command:      control.CmdMaintenance,
		Start:        startAt.Unix(),
		DurationSecs: int64(duration.Seconds()),
	})
}

// runControl sends one command and prints every reply line until the
// command completes.
func runControl(socket string, cmd control.Command) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		fmt.Fprintln(os.Stderr, "send:", err)
		os.Exit(1)
	}
	dec := json.NewDecoder(conn)
	for {
		var reply control.Reply
		if err := dec.Decode(&reply); err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		switch reply.Type {
		case "ok", "inactive":
			fmt.Println(reply.Type)
			return
		case "error":
			fmt.Fprintln(os.Stderr, "error:", reply.Error)
			os.Exit(1)
		case "active_rooms":
			fmt.Printf("%d room(s) still active:\n", len(reply.ActiveRooms))
			for _, r := range reply.ActiveRooms {
				fmt.Printf("  %-32s players=%d last_saved=%s\n", r.Name, r.Players, r.LastSaved.Format(time.RFC3339))
			}
		default:
			fmt.Fprintln(os.Stderr, "unexpected reply:", reply.Type)
			os.Exit(1)
		}
	}
}

func roomsCmd(args []string) {
	fs := flag.NewFlagSet("rooms", flag.ExitOnError)
	dbPath := fs.String("db", "data/rooms.db", "sqlite path")
	_ = fs.Parse(args)

	db, err := roomdb.Open(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	states, err := db.LoadAll()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	for _, s := range states {
		queued := len(s.BaseQueue)
		for _, q := range s.PlayerQueues {
			queued += len(q)
		}
		fmt.Printf("%-6d %-32s open=%-5v queued=%-5d last_saved=%s autodelete=%s\n",
			s.ID, s.Name, s.Open, queued, s.LastSaved.Format(time.RFC3339), s.AutoDeleteDelta)
	}
}
