// Package cli implements the hueshift command line: recolor single files,
// batch-export a set of files, and report what the decoder sees in a file.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/alecthomas/kong"

	"github.com/dunamismax/hueshift/internal/apng"
	"github.com/dunamismax/hueshift/internal/domain"
	"github.com/dunamismax/hueshift/internal/pipeline"
)

var version = "dev"

type CLI struct {
	Globals Globals `embed:""`

	Recolor RecolorCmd `cmd:"" help:"Recolor one PNG or APNG file."`
	Batch   BatchCmd   `cmd:"" help:"Recolor many files into a directory as <name>_edited.png."`
	Detect  DetectCmd  `cmd:"" help:"Report whether files are static or animated and how they decode."`
}

type Globals struct {
	FrameBatchSize int              `help:"Animated frames recolored concurrently." name:"frame-batch" default:"4"`
	PartialFrames  string           `help:"Policy when some frames fail to decode." enum:"accept,reject" default:"accept"`
	MaxPixels      int64            `help:"Decoded pixel budget per file, frames x canvas for animations." name:"max-pixels" default:"67108864"`
	Verbose        bool             `help:"Log pipeline fallbacks to stderr." short:"v"`
	JSON           bool             `help:"Emit JSON instead of text."`
	Version        kong.VersionFlag `help:"Show version."`
}

// AdjustmentFlags are shared by the commands that recolor.
type AdjustmentFlags struct {
	Hue            int    `help:"Hue rotation in degrees (-180..180)." default:"0"`
	Saturation     int    `help:"Saturation change in percent (-100..100)." short:"s" default:"0"`
	Brightness     int    `help:"Brightness change in percent (-100..100)." short:"b" default:"0"`
	OverlayColor   string `help:"Overlay color as #rrggbb." name:"overlay"`
	OverlayOpacity int    `help:"Overlay opacity in percent (0..100)." name:"overlay-opacity" default:"0"`
}

func (f AdjustmentFlags) adjustment() domain.Adjustment {
	return domain.Adjustment{
		Hue:            f.Hue,
		Saturation:     f.Saturation,
		Brightness:     f.Brightness,
		OverlayColor:   f.OverlayColor,
		OverlayOpacity: f.OverlayOpacity,
	}
}

type session struct {
	ctx       context.Context
	stdout    io.Writer
	stderr    io.Writer
	recolorer *pipeline.Recolorer
	decoder   apng.Decoder
	json      bool
}

func (g Globals) session(ctx context.Context, stdout, stderr io.Writer) (*session, error) {
	logOut := io.Discard
	if g.Verbose {
		logOut = stderr
	}
	recolorer, err := pipeline.NewRecolorer(pipeline.Options{
		FrameBatchSize:  g.FrameBatchSize,
		PartialFrames:   pipeline.PartialFramesPolicy(g.PartialFrames),
		MaxDecodePixels: g.MaxPixels,
		Logger:          log.New(logOut, "[hueshift] ", log.Lmsgprefix),
	})
	if err != nil {
		return nil, err
	}
	return &session{
		ctx:       ctx,
		stdout:    stdout,
		stderr:    stderr,
		recolorer: recolorer,
		decoder:   apng.Decoder{MaxTotalPixels: g.MaxPixels},
		json:      g.JSON,
	}, nil
}

// Run parses args and executes the selected command. It returns the process
// exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var cli CLI
	exitCode := -1
	parser, err := kong.New(&cli,
		kong.Name("hueshift"),
		kong.Description("Recolor PNG and APNG images with hue, saturation, brightness and overlay."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Vars{"version": version},
		kong.Exit(func(code int) { exitCode = code }),
	)
	if err != nil {
		fmt.Fprintf(stderr, "hueshift: %v\n", err)
		return 2
	}

	kctx, err := parser.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		fmt.Fprintf(stderr, "hueshift: %v\n", err)
		return 2
	}

	if err := pipeline.Startup(); err != nil {
		fmt.Fprintf(stderr, "hueshift: %v\n", err)
		return 1
	}
	defer pipeline.Shutdown()

	rt, err := cli.Globals.session(ctx, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "hueshift: %v\n", err)
		return 2
	}
	if err := kctx.Run(rt); err != nil {
		fmt.Fprintf(stderr, "hueshift: %v\n", err)
		return 1
	}
	return 0
}
