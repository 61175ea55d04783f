// Command cropctl runs the crop engine and the background-removal pipeline
// against local files.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type cliArgs struct {
	Verbose bool `help:"Enable verbose logging" default:"false"`

	Render renderCmd `cmd:"" help:"Replay a gesture script against an image and write the 1080x1080 crop"`
	Cutout cutoutCmd `cmd:"" help:"Remove the background of every image in a directory"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("cropctl"),
		kong.UsageOnError(),
	)

	level := zerolog.InfoLevel
	if args.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	cliCtx.BindTo(ctx, (*context.Context)(nil))
	return cliCtx.Run()
}
