// ndi-bridge-display receives NDI sources and shows them on DRM displays
// (spec.md §6). It exposes a cobra command tree: list, displays, show,
// stop, status, auto, and handles SIGINT/SIGTERM for orderly shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/display"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/ndirecv"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/status"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/streammanager"
)

const defaultCardPath = "/dev/dri/card0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cardPath string

	root := &cobra.Command{
		Use:   "ndi-bridge-display",
		Short: "Receive NDI sources and show them on local displays",
	}
	root.PersistentFlags().StringVar(&cardPath, "card", defaultCardPath, "DRM card device")

	root.AddCommand(
		newListCmd(),
		newDisplaysCmd(&cardPath),
		newShowCmd(&cardPath),
		newStopCmd(),
		newStatusCmd(),
		newAutoCmd(&cardPath),
	)
	return root
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Enumerate NDI sources on the network",
		RunE: func(cmd *cobra.Command, args []string) error {
			finder, err := ndirecv.NewFinder(true)
			if err != nil {
				return err
			}
			defer finder.Close()
			sources := finder.WaitForSources(3 * time.Second)
			for _, s := range sources {
				fmt.Printf("%s\t%s\n", s.Name, s.Address)
			}
			return nil
		},
	}
}

func newDisplaysCmd(cardPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "displays",
		Short: "Enumerate DRM connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			connectors, err := display.EnumerateConnectors(*cardPath)
			if err != nil {
				return err
			}
			for _, c := range connectors {
				fmt.Printf("%d\tconnected=%v\t%dx%d\n", c.ConnectorID, c.Connected, c.Width, c.Height)
			}
			return nil
		},
	}
}

func newShowCmd(cardPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <stream> <display>",
		Short: "Map an NDI source onto a display",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamName := args[0]
			displayID, err := parseDisplayID(args[1])
			if err != nil {
				return err
			}

			finder, err := ndirecv.NewFinder(true)
			if err != nil {
				return err
			}
			defer finder.Close()

			var source *ndirecv.Source
			for _, s := range finder.WaitForSources(3 * time.Second) {
				if s.Name == streamName {
					sc := s
					source = &sc
					break
				}
			}
			if source == nil {
				return fmt.Errorf("ndi-bridge-display: source %q not found", streamName)
			}

			mgr := streammanager.New(*cardPath)
			if err := mgr.Map(*source, displayID); err != nil {
				return err
			}

			writeStatusLoop(mgr, displayID)
			waitForSignal()
			mgr.UnmapAll()
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <display>",
		Short: "Remove a display's status entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			displayID, err := parseDisplayID(args[0])
			if err != nil {
				return err
			}
			return status.Remove(status.ResolveDir(), displayID)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the state of every mapped display",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := status.List(status.ResolveDir())
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("display=%d stream=%s resolution=%dx%d fps=%.2f received=%d dropped=%d\n",
					e.DisplayID, e.StreamName, e.Width, e.Height, e.Fps, e.FramesReceived, e.FramesDropped)
			}
			return nil
		},
	}
}

func newAutoCmd(cardPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "auto",
		Short: "Pair the first three NDI sources with the first three displays",
		RunE: func(cmd *cobra.Command, args []string) error {
			finder, err := ndirecv.NewFinder(true)
			if err != nil {
				return err
			}
			defer finder.Close()
			sources := finder.WaitForSources(3 * time.Second)

			connectors, err := display.EnumerateConnectors(*cardPath)
			if err != nil {
				return err
			}
			var displayIDs []uint32
			for _, c := range connectors {
				if c.Connected {
					displayIDs = append(displayIDs, c.ConnectorID)
				}
			}

			mgr := streammanager.New(*cardPath)
			if err := mgr.AutoMap(sources, displayIDs); err != nil {
				return err
			}
			for _, snap := range mgr.Snapshots() {
				writeStatusEntry(snap)
			}

			waitForSignal()
			mgr.UnmapAll()
			return nil
		},
	}
}

func parseDisplayID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("ndi-bridge-display: invalid display id %q: %w", s, err)
	}
	return uint32(v), nil
}

func writeStatusEntry(snap streammanager.Snapshot) {
	_ = status.Write(status.ResolveDir(), status.Entry{
		StreamName:     snap.SourceName,
		DisplayID:      snap.DisplayID,
		PID:            os.Getpid(),
		Width:          snap.Width,
		Height:         snap.Height,
		Fps:            fpsOf(snap.FpsNum, snap.FpsDen),
		FramesReceived: snap.FramesReceived,
		FramesDropped:  snap.FramesDropped,
	})
}

func fpsOf(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// writeStatusLoop writes one status entry immediately and then every
// second until the process exits, matching the way other fields in a
// .status file (FRAMES_RECEIVED, FRAMES_DROPPED) are meant to be live.
func writeStatusLoop(mgr *streammanager.Manager, displayID uint32) {
	write := func() {
		for _, snap := range mgr.Snapshots() {
			if snap.DisplayID == displayID {
				writeStatusEntry(snap)
			}
		}
	}
	write()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			write()
		}
	}()
}

func waitForSignal() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
}
