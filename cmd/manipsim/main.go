// Command manipsim simulates a sequence of extracted manipulation actions
// and writes the resulting trajectories and validation report as JSON.
package main

import (
	"context"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"

	"github.com/armkit/manipsim/action"
	"github.com/armkit/manipsim/armmodel"
	"github.com/armkit/manipsim/sim"
)

func main() {
	utils.ContextualMain(mainWithArgs, golog.NewDevelopmentLogger("manipsim"))
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	app := &cli.App{
		Name:  "manipsim",
		Usage: "simulate manipulation action sequences on a robotic arm",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "actions",
				Usage:    "path to the JSON action sequence",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "arm model name",
				Value: armmodel.SixDOF,
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "output path for the simulation report, stdout when empty",
			},
			&cli.StringFlag{
				Name:  "calibration",
				Usage: "path to a calibration table overriding the built-in one",
			},
			&cli.BoolFlag{
				Name:  "real-time",
				Usage: "pace physics steps to wall time",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: func(c *cli.Context) error {
			log := logger
			if c.Bool("debug") {
				log = golog.NewDebugLogger("manipsim")
			}
			return run(c.Context, c, log)
		},
	}
	return app.RunContext(ctx, args)
}

func run(ctx context.Context, c *cli.Context, logger golog.Logger) error {
	f, err := os.Open(c.String("actions"))
	if err != nil {
		return errors.Wrap(err, "cannot open action sequence")
	}
	specs, err := action.DecodeSpecs(f)
	utils.UncheckedError(f.Close())
	if err != nil {
		return err
	}
	logger.Infow("loaded action sequence", "actions", len(specs))

	session, err := sim.New(sim.Config{
		ModelName:       c.String("model"),
		Logger:          logger,
		RealTime:        c.Bool("real-time"),
		CalibrationPath: c.String("calibration"),
	})
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(session.Close)

	results, seqErr := session.RunSequence(ctx, specs)

	out := os.Stdout
	if path := c.String("out"); path != "" {
		out, err = os.Create(path)
		if err != nil {
			return errors.Wrap(err, "cannot create output file")
		}
		defer utils.UncheckedErrorFunc(out.Close)
	}
	if err := sim.Export(out, results); err != nil {
		return err
	}

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	logger.Infow("sequence finished",
		"simulated", len(results), "succeeded", succeeded)
	return seqErr
}
