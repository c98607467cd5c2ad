// Command counter is a terminal client for counterd.
//
// Its store is bridged to the server: typing + or - executes the increment
// or decrement action, which the bridge forwards; the server answers with
// sync, which the bridge dispatches back into the store.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gookit/color"
	"github.com/kleeedolinux/actionsocket/app"
	"github.com/kleeedolinux/actionsocket/bridge"
	"github.com/kleeedolinux/actionsocket/debug"
	"github.com/kleeedolinux/actionsocket/socket"
	"github.com/kleeedolinux/actionsocket/store"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const defaultURL = "http://127.0.0.1:3000/socket"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		connect    = pflag.StringP("connect", "c", defaultURL, "URL to connect to")
		room       = pflag.StringP("room", "r", "", "Room to join")
		transport  = pflag.StringP("transport", "t", "", "Transport: websocket or polling")
		verbose    = pflag.BoolP("verbose", "v", false, "Log bridge activity to stderr")
		configPath = pflag.String("config", "", "YAML config file")
	)
	pflag.Parse()

	cfg := &fileConfig{}
	if *configPath != "" {
		var err error
		if cfg, err = loadConfig(*configPath); err != nil {
			return err
		}
	}
	if pflag.CommandLine.Changed("connect") || cfg.Connection == "" {
		cfg.Connection = *connect
	}
	socketOptions := cfg.socketOptions(*room, *transport)
	options := bridge.OptionsFromMap(cfg.Plugin)
	if pflag.CommandLine.Changed("verbose") {
		options.Verbose = *verbose
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newPrinter(os.Stdout)
	st := newCounterStore()
	st.Subscribe(func(_ store.Mutation, count int) {
		out.count(count)
	})

	host := app.New("counter")
	plugin := bridge.NewPlugin[int](bridge.Config{
		Connection:    cfg.Connection,
		SocketOptions: socketOptions,
		Options:       options,
		Debugger:      debug.NewPrintDebugger(os.Stderr),
	}, st)
	if err := host.Use(ctx, plugin); err != nil {
		return err
	}
	defer plugin.Bridge().Close()

	state := "connected to "
	if sock, ok := bridge.SocketFrom(host); ok {
		if c, ok := sock.(*socket.Client); ok {
			c.On(socket.EventConnect, func(any) { out.status("connected") })
			c.On(socket.EventDisconnect, func(reason any) { out.status(fmt.Sprintf("disconnected: %v", reason)) })
			c.OnError(func(err error) { out.status(err.Error()) })
			if !c.IsConnected() {
				state = "connecting to "
			}
		}
	}
	out.status(state + cfg.Connection + "; type +, -, 0 or q")

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			action, quit := parseCommand(line)
			if quit {
				return nil
			}
			if action == "" {
				continue
			}
			if err := st.Dispatch(ctx, action, 1); err != nil {
				out.status(err.Error())
			}
		}
	}
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

// parseCommand maps an input line to an action name.
func parseCommand(line string) (action string, quit bool) {
	switch strings.TrimSpace(line) {
	case "+":
		return "increment", false
	case "-":
		return "decrement", false
	case "0":
		return "reset", false
	case "q":
		return "", true
	}
	return "", false
}

type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(f *os.File) *printer {
	return &printer{w: f, color: term.IsTerminal(int(f.Fd()))}
}

func (p *printer) count(n int) {
	s := fmt.Sprint(n)
	if p.color {
		s = color.Green.Sprint(s)
	}
	fmt.Fprintf(p.w, "count: %s\n", s)
}

func (p *printer) status(msg string) {
	if p.color {
		msg = color.Cyan.Sprint(msg)
	}
	fmt.Fprintln(p.w, msg)
}
