package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"itemlink.gg/internal/config"
	"itemlink.gg/internal/control"
	"itemlink.gg/internal/persistence/roomdb"
	"itemlink.gg/internal/room"
	"itemlink.gg/internal/session"
	"itemlink.gg/internal/transport/tcpsock"
	"itemlink.gg/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.yaml", "server config path")
		wsListen   = flag.String("ws_listen", "", "override ws listen address")
		tcpListen  = flag.String("tcp_listen", "", "override tcp listen address")
		dbPath     = flag.String("db", "", "override sqlite path")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *wsListen != "" {
		cfg.WSListen = *wsListen
	}
	if *tcpListen != "" {
		cfg.TCPListen = *tcpListen
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := newLogger(cfg.LogPath)
	defer logger.Sync()
	log := logger.Sugar()

	db, err := roomdb.Open(cfg.DBPath)
	if err != nil {
		log.Fatalw("open room db", "path", cfg.DBPath, "err", err)
	}
	defer db.Close()

	rooms := room.NewRegistry(log, db)
	states, err := db.LoadAll()
	if err != nil {
		log.Fatalw("load rooms", "err", err)
	}
	rooms.Restore(states)
	log.Infow("rooms restored", "count", len(states))

	ctx, cancel := signalContext()
	defer cancel()

	auth := session.StaticKeys{}
	for key, name := range cfg.APIKeys {
		auth[key] = session.Identity{Name: name, Admin: true}
	}
	sessions := &session.Server{
		Log:               log,
		Rooms:             rooms,
		Auth:              auth,
		DefaultAutoDelete: cfg.DefaultAutoDelete.Std(),
		PingInterval:      cfg.PingInterval.Std(),
		OnStop:            cancel,
	}

	go rooms.RunAutoDelete(ctx)

	// WebSocket transport plus metrics and pprof on one mux.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/", ws.NewServer(sessions, log).Handler())

	srv := &http.Server{
		Addr:              cfg.WSListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()
	go func() {
		log.Infow("websocket listening", "addr", cfg.WSListen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("ws listen", "err", err)
		}
	}()

	// Legacy TCP transport.
	if cfg.TCPListen != "" {
		ln, err := net.Listen("tcp", cfg.TCPListen)
		if err != nil {
			log.Fatalw("tcp listen", "addr", cfg.TCPListen, "err", err)
		}
		log.Infow("tcp listening", "addr", cfg.TCPListen)
		go func() {
			if err := tcpsock.NewServer(sessions, rooms, log).Serve(ctx, ln); err != nil {
				log.Errorw("tcp serve", "err", err)
			}
		}()
	}

	// Operator control channel.
	if cfg.ControlSocket != "" {
		_ = os.Remove(cfg.ControlSocket)
		ln, err := net.Listen("unix", cfg.ControlSocket)
		if err != nil {
			log.Fatalw("control listen", "path", cfg.ControlSocket, "err", err)
		}
		defer os.Remove(cfg.ControlSocket)
		log.Infow("control listening", "path", cfg.ControlSocket)
		go func() {
			if err := control.NewServer(log, rooms, cancel).Serve(ctx, ln); err != nil {
				log.Errorw("control serve", "err", err)
			}
		}()
	}

	<-ctx.Done()
	log.Infow("shutting down, saving rooms")
	rooms.SaveAll()
}

func newLogger(logPath string) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stderr), zapcore.InfoLevel),
	}
	if logPath != "" {
		lj := &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(lj), zapcore.DebugLevel))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
