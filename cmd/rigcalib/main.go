// Package main is the rigcalib command line entrypoint. It reads a calibration config, decodes
// the recording, hands camera topics to the external reconstruction tool and solves the rig.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"go.viam.com/rigcalib/logging"
	// registers all decoders.
	_ "go.viam.com/rigcalib/sensor/camera"
	_ "go.viam.com/rigcalib/sensor/imu"
	_ "go.viam.com/rigcalib/sensor/lidar"
	_ "go.viam.com/rigcalib/sensor/radar"
)

var logger = logging.NewLogger("rigcalib")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logger.Errorw("calibration failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "rigcalib",
		Usage:           "targetless spatiotemporal calibration of imu, radar, lidar and camera rigs",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load calibration configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagWaitSfM,
				Usage: "wait for the reconstruction of camera topics instead of exiting",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Action: CalibrateAction,
		Commands: []*cli.Command{
			{
				Name:   "schema",
				Usage:  "print the JSON schema of the calibration configuration",
				Action: SchemaAction,
			},
		},
	}
}
