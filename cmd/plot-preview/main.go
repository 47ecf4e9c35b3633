// plot-preview renders a job file to PNG by replaying the board commands
// plotbot would send for it.
//
// Usage:
//
//	plot-preview -job spiral.json -out spiral.png [-config plotbot.cfg] [-scale 0.5] [-travel]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"plotbot-go/pkg/config"
	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/feature"
	"plotbot-go/pkg/geometry"
	"plotbot-go/pkg/log"
	"plotbot-go/pkg/plotter"
	"plotbot-go/pkg/preview"
)

func main() {
	configFile := flag.String("config", "", "Plotter configuration file")
	jobFile := flag.String("job", "", "Job file (required)")
	out := flag.String("out", "", "Output PNG (default: job name with .png)")
	scale := flag.Float64("scale", 1, "Output pixels per canvas pixel")
	travel := flag.Bool("travel", false, "Draw pen-up moves")
	dump := flag.Bool("commands", false, "Print the command stream as JSON instead of rendering")
	flag.Parse()

	logger := log.GetLogger("preview")
	if *jobFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -job is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadPlotterConfig(*configFile)
	if err != nil {
		fail(logger, err)
	}
	enc, err := plotter.NewEncoder(cfg)
	if err != nil {
		fail(logger, err)
	}
	job, err := feature.LoadJob(*jobFile)
	if err != nil {
		fail(logger, err)
	}

	cmds, pen, err := plotter.Plan(enc, plotter.CanvasFrom(cfg), geometry.Origin, job)
	if err != nil {
		fail(logger, err)
	}

	if *dump {
		e := json.NewEncoder(os.Stdout)
		e.SetIndent("", "  ")
		if err := e.Encode(cmds); err != nil {
			fail(logger, err)
		}
		return
	}

	title := job.Name
	if title == "" {
		title = filepath.Base(*jobFile)
	}
	c := preview.New(preview.Options{
		Width:      int(cfg.Stage.CanvasWidth),
		Height:     int(cfg.Stage.CanvasHeight),
		Scale:      *scale,
		Ratio:      enc.Ratio,
		FullStep:   enc.FullStep,
		Mode:       enc.Mode,
		ShowTravel: *travel,
		Title:      title,
	})
	c.ApplyAll(cmds)

	path := *out
	if path == "" {
		path = *jobFile
		path = path[:len(path)-len(filepath.Ext(path))] + ".png"
	}
	if err := c.SavePNG(path); err != nil {
		fail(logger, err)
	}

	millis := 0
	for _, cmd := range cmds {
		millis += cmd.DurationMillis
	}
	st := c.Stats()
	logger.WithFields(log.Fields{
		"out":       path,
		"features":  len(job.Features),
		"packets":   len(cmds),
		"segments":  st.Segments,
		"dots":      st.Dots,
		"plot_time": fmt.Sprintf("%.1fs", float64(millis)/1000),
		"end_pen":   pen.String(),
	}).Info("preview written")
}

func fail(logger *log.Logger, err error) {
	logger.WithError(err).WithField("code", errors.CodeOf(err)).Error("preview failed")
	os.Exit(1)
}
