package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"qhy5-indi/pkg/app"
	"qhy5-indi/pkg/config"
	"qhy5-indi/pkg/exposure"
	"qhy5-indi/pkg/schedule"
	"qhy5-indi/pkg/utils"
)

func main() {
	opts := config.Defaults(true)
	if err := opts.Parse(flag.CommandLine, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(2)
	}
	logger := utils.GetLogger()
	defer logger.Sync()

	if err := run(opts); err != nil {
		logger.Fatal(err)
	}
}

func run(opts *config.Options) error {
	ctx, stop := utils.SignalContext(context.Background())
	defer stop()

	a, err := app.Start(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	// each round starts from where the previous search ended
	settings := opts.Settings
	adj := exposure.NewAdjuster(opts.Auto, a.Limits)

	return schedule.Run(ctx, opts.Interval, opts.Count, func(ctx context.Context, n int) error {
		res, next, err := a.Runner.Auto(ctx, settings, adj)
		if err != nil {
			return err
		}
		fmt.Printf("%d: %s %s mean=%.1f %s after %d tries\n", n, res.File, res.Settings, res.Mean, res.Verdict, res.Tries)
		settings = next
		return nil
	})
}
