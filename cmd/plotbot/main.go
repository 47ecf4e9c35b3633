// plotbot drives an EiBotBoard pen plotter. It connects to the board,
// homes the pen, and draws features submitted over the JSON-RPC API or
// loaded from a job file.
//
// Usage:
//
//	plotbot -config ~/plotbot.cfg [options]
//
// Options:
//
//	-config string   Plotter configuration file (defaults apply when empty)
//	-port string     Board port, overrides [board] port
//	-api string      API listen address, overrides [api] address
//	-metrics string  Metrics listen address, overrides [metrics] address
//	-job string      Job file to draw once homed
//	-logfile string  Also log to a rotating file
//	-dry-run         Use a simulated board instead of the serial port
//	-v               Debug logging
//
// Examples:
//
//	# Draw a job on the board found by USB auto-detection
//	plotbot -config ~/plotbot.cfg -job spiral.json
//
//	# Talk to a simulated board from mock-ebb
//	plotbot -port tcp:localhost:7400
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plotbot-go/pkg/api"
	"plotbot-go/pkg/boardlink"
	"plotbot-go/pkg/config"
	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/feature"
	"plotbot-go/pkg/log"
	"plotbot-go/pkg/metrics"
	"plotbot-go/pkg/plotter"
	"plotbot-go/pkg/reactor"
)

func main() {
	configFile := flag.String("config", "", "Plotter configuration file")
	port := flag.String("port", "", "Board port: device path, tcp:host:port, unix:path or auto")
	apiAddr := flag.String("api", "", "API listen address (overrides config)")
	metricsAddr := flag.String("metrics", "", "Metrics listen address (overrides config)")
	jobFile := flag.String("job", "", "Job file to draw once homed")
	logFile := flag.String("logfile", "", "Also write logs to this file, rotated at 10MB")
	dryRun := flag.Bool("dry-run", false, "Use a simulated board")
	simX := flag.Int("sim-x", 400, "Simulated carriage X offset from home, microsteps")
	simY := flag.Int("sim-y", 300, "Simulated carriage Y offset from home, microsteps")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *verbose {
		log.Default().SetLevel(log.DEBUG)
	}
	if *logFile != "" {
		w, err := log.LogToFile(log.RotationConfig{Filename: *logFile, Compress: true})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
	}
	logger := log.GetLogger("main")

	cfg, err := config.LoadPlotterConfig(*configFile)
	if err != nil {
		fatal(logger, "config", err)
	}
	if *port != "" {
		cfg.Board.Port = *port
	}
	if *apiAddr != "" {
		cfg.API = *apiAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics = *metricsAddr
	}

	m := metrics.NewPlotterMetrics()

	var (
		link boardlink.Link
		sim  *boardlink.Simulator
	)
	if *dryRun {
		sim = boardlink.NewSimulator(cfg.Limits.XPin, cfg.Limits.YPin, *simX, *simY)
		link = boardlink.NewRecorder(sim.Reply)
		logger.Info("dry run: using simulated board")
	} else {
		sl, err := boardlink.Open(cfg.Board, m)
		if err != nil {
			fatal(logger, "board", err)
		}
		link = sl
	}
	defer link.Close()

	ctrl, err := plotter.New(cfg, link, m)
	if err != nil {
		fatal(logger, "controller", err)
	}

	r := reactor.New()
	period := 1 / cfg.Pacer.FrameRate
	r.RegisterTimer(func(eventtime float64) float64 {
		if err := ctrl.Tick(time.Duration(eventtime * float64(time.Second))); err != nil {
			logger.WithError(err).WithField("code", errors.CodeOf(err)).Error("plotter faulted")
		}
		return eventtime + period
	}, r.Monotonic())
	r.Run()

	if *jobFile != "" {
		job, err := feature.LoadJob(*jobFile)
		if err != nil {
			fatal(logger, "job", err)
		}
		if _, err := r.RegisterAsyncCallback(func(float64) interface{} {
			n, err := ctrl.EnqueueJob(job)
			entry := logger.WithFields(log.Fields{"file": *jobFile, "queued": n, "features": len(job.Features)})
			if err != nil {
				entry.WithError(err).Error("job rejected")
			} else {
				entry.Info("job queued")
			}
			return nil
		}); err != nil {
			fatal(logger, "job", err)
		}
	}

	var apiServer *api.Server
	if cfg.API != "" {
		apiServer = api.New(api.Config{Addr: cfg.API, Plotter: ctrl})
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.WithError(err).Error("API server stopped")
			}
		}()
	}

	var metricsServer *metrics.Server
	if cfg.Metrics != "" {
		mcfg := metrics.DefaultServerConfig()
		mcfg.Address = cfg.Metrics
		mcfg.Ready = ctrl.Ready
		metricsServer = metrics.NewServerWithConfig(m, mcfg)
		errCh := metricsServer.StartAsync()
		go func() {
			if err := <-errCh; err != nil {
				logger.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	logger.WithFields(log.Fields{
		"link":    boardlink.Describe(link),
		"api":     cfg.API,
		"metrics": cfg.Metrics,
	}).Info("plotbot running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	r.End()
	r.Wait()
	if apiServer != nil {
		apiServer.Stop()
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		metricsServer.Shutdown(ctx)
		cancel()
	}
	if sim != nil {
		x, y := sim.Position()
		logger.WithFields(log.Fields{"moves": sim.Moves(), "x": x, "y": y}).Info("simulated board final state")
	}
	st := ctrl.Status()
	logger.WithFields(log.Fields{"mode": st.Mode, "packets_sent": st.PacketsSent, "queue_depth": st.QueueDepth}).Info("plotbot stopped")
}

func fatal(logger *log.Logger, stage string, err error) {
	logger.WithError(err).WithFields(log.Fields{"stage": stage, "code": errors.CodeOf(err)}).Error("startup failed")
	os.Exit(1)
}
