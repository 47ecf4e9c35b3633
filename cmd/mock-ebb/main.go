// mock-ebb simulates an EiBotBoard with limit switches on a TCP or unix
// socket so plotbot can run without hardware.
//
// Usage:
//
//	mock-ebb -listen tcp:127.0.0.1:7400 [-offset-x 400] [-offset-y 300] [-v]
//	plotbot -port tcp:127.0.0.1:7400
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"plotbot-go/pkg/boardlink"
	"plotbot-go/pkg/config"
	"plotbot-go/pkg/log"
)

func main() {
	listen := flag.String("listen", "tcp:127.0.0.1:7400", "Listen address, tcp:host:port or unix:path")
	configFile := flag.String("config", "", "Plotter configuration file, for the limit switch pins")
	offsetX := flag.Int("offset-x", 400, "Carriage X offset from home at connect, microsteps")
	offsetY := flag.Int("offset-y", 300, "Carriage Y offset from home at connect, microsteps")
	verbose := flag.Bool("v", false, "Log every command")
	flag.Parse()

	logger := log.GetLogger("mock-ebb")
	if *verbose {
		log.Default().SetLevel(log.DEBUG)
	}

	cfg, err := config.LoadPlotterConfig(*configFile)
	if err != nil {
		logger.WithError(err).Error("config")
		os.Exit(1)
	}

	network, addr, ok := strings.Cut(*listen, ":")
	if !ok || (network != "tcp" && network != "unix") {
		fmt.Fprintf(os.Stderr, "Error: -listen must be tcp:host:port or unix:path\n")
		os.Exit(1)
	}
	if network == "unix" {
		os.Remove(addr)
		defer os.Remove(addr)
	}
	listener, err := net.Listen(network, addr)
	if err != nil {
		logger.WithError(err).Error("listen")
		os.Exit(1)
	}
	defer listener.Close()
	logger.Info("mock EBB listening on %s", *listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	connCh := make(chan net.Conn, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			connCh <- conn
		}
	}()

	for {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			return
		case conn := <-connCh:
			// every connection is a freshly powered board
			sim := boardlink.NewSimulator(cfg.Limits.XPin, cfg.Limits.YPin, *offsetX, *offsetY)
			go handleConnection(conn, sim, logger)
		}
	}
}

func handleConnection(conn net.Conn, sim *boardlink.Simulator, logger *log.Logger) {
	defer conn.Close()
	clog := logger.With(log.Fields{"remote": conn.RemoteAddr().String()})
	clog.Info("client connected")

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\r')
		if err != nil {
			x, y := sim.Position()
			clog.WithFields(log.Fields{"moves": sim.Moves(), "x": x, "y": y}).Info("client disconnected")
			return
		}
		// tolerate CRLF senders
		line = strings.TrimLeft(line, "\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		reply := sim.Reply(line)
		clog.Debug("%q -> %q", line, reply)
		if _, err := conn.Write(reply); err != nil {
			clog.WithError(err).Warn("write failed")
			return
		}
	}
}
