// Command counterd serves shared counters over an event socket.
//
// Each room has its own counter. Clients send increment, decrement and
// reset events; after every change the room receives a sync event carrying
// {"count": n}. Any other event is ignored.
package main

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/caarlos0/env/v11"
	"github.com/kleeedolinux/actionsocket/debug"
	"github.com/kleeedolinux/actionsocket/socket"
	"github.com/spf13/pflag"
)

type config struct {
	Addr        string `env:"COUNTERD_ADDR" envDefault:"127.0.0.1:3000"`
	Path        string `env:"COUNTERD_PATH" envDefault:"/socket"`
	DefaultRoom string `env:"COUNTERD_DEFAULT_ROOM" envDefault:"lobby"`
	Debug       bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	pflag.StringVarP(&cfg.Addr, "addr", "a", cfg.Addr, "Address to listen on")
	pflag.StringVar(&cfg.Path, "path", cfg.Path, "Socket endpoint path")
	pflag.StringVar(&cfg.DefaultRoom, "default-room", cfg.DefaultRoom, "Room for clients that do not ask for one")
	pflag.BoolVarP(&cfg.Debug, "debug", "d", false, "Trace socket traffic")
	pflag.Parse()

	if cfg.Debug {
		debug.Enable()
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, server, err := newHandler(ctx, cfg)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s%s", cfg.Addr, cfg.Path)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Socket server shutdown error: %v", err)
	}
	return httpServer.Shutdown(shutdownCtx)
}

// newHandler builds the socket server and its HTTP routes. The websocket
// endpoint is served as is; long-polling responses under path/ are gzipped.
func newHandler(ctx context.Context, cfg config) (http.Handler, *socket.Server, error) {
	server := socket.NewServer(
		socket.WithPingInterval(25*time.Second),
		socket.WithPingTimeout(5*time.Second),
		socket.WithDefaultRoom(cfg.DefaultRoom),
	)

	rooms := newCounters(func(room string, count int) {
		server.BroadcastToRoom(room, syncEvent, syncPayload{Count: count})
	})

	server.HandleFunc(socket.EventConnect, func(s socket.Socket, _ any) {
		for _, room := range server.RoomsOf(s.ID()) {
			if err := s.Emit(syncEvent, syncPayload{Count: rooms.count(room)}); err != nil {
				log.Printf("Socket %s: initial sync: %v", s.ID(), err)
			}
		}
	})

	server.HandleAny(func(s socket.Socket, event socket.Event, data any) {
		for _, room := range server.RoomsOf(s.ID()) {
			if !rooms.handle(ctx, room, string(event), data) {
				debug.Printf("Socket %s: ignoring %q in room %s", s.ID(), event, room)
			}
		}
	})

	gz, err := gziphandler.NewGzipLevelHandler(gzip.DefaultCompression)
	if err != nil {
		return nil, nil, err
	}

	path := "/" + strings.Trim(cfg.Path, "/")
	mux := http.NewServeMux()
	mux.Handle(path, server)
	mux.Handle(path+"/", gz(server))
	return mux, server, nil
}
