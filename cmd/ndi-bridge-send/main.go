// ndi-bridge-send captures one video device and sends it over NDI
// (spec.md §6). It accepts either a positional invocation
// (`ndi-bridge-send "<device_name>" <ndi_name>`) or a flagged one
// (`--type --device --ndi-name ...`), grounded on flag.FlagSet's
// manual-parse-then-validate shape rather than cobra, since this binary
// has no subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/capture"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/capture/decklink"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/capture/mf"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/capture/v4l2"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/controller"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/ndisend"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

const version = "1.0.0"

type options struct {
	backendType string
	device      string
	ndiName     string
	listDevices bool
	noRetry     bool
	retryDelay  time.Duration
	maxRetries  int
	verbose     bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseArgs(args)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if opts.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	backend := newBackend(opts.backendType)
	if backend == nil {
		fmt.Fprintf(os.Stderr, "ndi-bridge-send: unknown backend type %q\n", opts.backendType)
		return 1
	}

	if opts.listDevices {
		devices, err := backend.EnumerateDevices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ndi-bridge-send: enumerate devices: %v\n", err)
			return 1
		}
		for _, d := range devices {
			fmt.Printf("%s\t%s\n", d.Id, d.DisplayName)
		}
		return 0
	}

	sender, err := ndisend.NewSender(opts.ndiName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ndi-bridge-send: %v\n", err)
		return 1
	}
	defer sender.Close()

	backend.SetFrameCallback(func(data []byte, _ int64, format videoformat.Format) {
		if err := sender.SendVideo(data, format); err != nil {
			log.Warn().Err(err).Msg("send_video failed, frame dropped")
		}
	})

	cfg := controller.Config{RetryDelay: opts.retryDelay, MaxRetries: opts.maxRetries}
	if opts.noRetry {
		cfg.MaxRetries = 0
	}
	ctl := controller.New(backend, opts.device, cfg)
	ctl.SetErrorCallback(func(msg string) {
		log.Error().Msg(msg)
	})

	if err := ctl.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "ndi-bridge-send: %v\n", err)
		return 1
	}

	waitForSignal()
	ctl.Stop()
	return 0
}

// waitForSignal blocks until SIGINT or SIGTERM triggers orderly shutdown
// (spec.md §6 "Signals"), grounded on desktop-bridge's signal.NotifyContext use.
func waitForSignal() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
}

func newBackend(t string) capture.Backend {
	switch capture.Tag(t) {
	case capture.TagV4L2:
		return v4l2.New()
	case capture.TagMF:
		return mf.New()
	case capture.TagDeckLink:
		return decklink.New()
	default:
		return nil
	}
}

func parseArgs(args []string) (options, error) {
	opts := options{
		backendType: string(capture.TagV4L2),
		retryDelay:  5 * time.Second,
		maxRetries:  -1,
	}

	// Positional mode: exactly two non-flag arguments.
	if len(args) == 2 && args[0] != "-h" && args[0] != "--help" && args[0][0] != '-' {
		opts.device = args[0]
		opts.ndiName = args[1]
		return opts, nil
	}

	fs := flag.NewFlagSet("ndi-bridge-send", flag.ContinueOnError)
	fs.StringVar(&opts.backendType, "type", opts.backendType, "capture backend: mf|dl|v4l2")
	fs.StringVar(&opts.device, "device", "", "device name or id (first available if empty)")
	fs.StringVar(&opts.ndiName, "ndi-name", "", "NDI source name to advertise")
	fs.BoolVar(&opts.listDevices, "list-devices", false, "list devices for --type and exit")
	fs.BoolVar(&opts.noRetry, "no-retry", false, "disable supervisor restarts")
	retryDelayMS := fs.Int("retry-delay", int(opts.retryDelay.Milliseconds()), "retry backoff cap, in milliseconds")
	fs.IntVar(&opts.maxRetries, "max-retries", opts.maxRetries, "max restart attempts, -1 for unbounded")
	fs.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.retryDelay = time.Duration(*retryDelayMS) * time.Millisecond

	if *showVersion {
		fmt.Println(version)
		return options{}, flag.ErrHelp
	}
	if opts.listDevices {
		return opts, nil
	}
	if opts.ndiName == "" {
		return options{}, fmt.Errorf("ndi-bridge-send: --ndi-name is required")
	}
	return opts, nil
}
