// Command fgrun builds and submits frame graphs described in YAML on a
// noop GPU device and prints the state transitions each pass records.
//
// Usage:
//
//	fgrun -frame deferred.yaml -frames 3 -workers 4
//	fgrun -frame deferred.yaml -frames 10000 -quiet
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend/native"
	"github.com/gogpu/framegraph/pipeline"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("fgrun: %v", err)
	}
}

type options struct {
	frame    string
	frames   int
	workers  int
	validate bool
	naga     bool
	quiet    bool
	verbose  bool
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("fgrun", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.frame, "frame", "", "frame description (YAML)")
	fs.IntVar(&o.frames, "frames", 1, "number of frames to submit")
	fs.IntVar(&o.workers, "workers", 0, "recording workers (0 uses the file's value)")
	fs.BoolVar(&o.validate, "validate", true, "validate schedules before execution")
	fs.BoolVar(&o.naga, "naga", true, "compile pipelines with naga (false uses a stub compiler)")
	fs.BoolVar(&o.quiet, "quiet", false, "print only the final stats")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.frame == "" {
		return o, errors.New("-frame is required")
	}
	if o.frames < 1 {
		return o, fmt.Errorf("-frames must be positive, got %d", o.frames)
	}
	return o, nil
}

func run(args []string, out io.Writer) error {
	o, err := parseFlags(args, out)
	if err != nil {
		return err
	}
	if o.verbose {
		framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		defer framegraph.SetLogger(nil)
	}

	fd, err := LoadFrame(o.frame)
	if err != nil {
		return err
	}
	if o.workers == 0 {
		o.workers = fd.Workers
	}

	device, queue, cleanup, err := openNoop()
	if err != nil {
		return err
	}
	defer cleanup()

	dev, err := native.New(device, queue)
	if err != nil {
		return err
	}
	defer dev.Close()

	cfg := pipeline.Config{Modules: pipeline.HALModules{Device: device}}
	if !o.naga {
		cfg.Compiler = stubCompiler
	}
	cache := pipeline.NewCache(cfg)
	defer cache.Close()
	if err := fd.Register(cache); err != nil {
		return err
	}

	rt := framegraph.NewRuntime(framegraph.Config{
		Workers:   o.workers,
		Factory:   dev.Factory,
		Pipelines: cache,
		Validate:  o.validate,
	})
	defer rt.Close()

	var bar *progressbar.ProgressBar
	if o.quiet && term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.Default(int64(o.frames), "frames")
		defer bar.Close()
	}
	report := out
	if o.quiet {
		report = io.Discard
	}

	persistent := fd.Persistent()
	start := time.Now()
	for range o.frames {
		if err := submitFrame(rt, fd, persistent, cache, dev, report); err != nil {
			return err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	fmt.Fprintf(out, "%d frames in %v\n%s\n%s\n%s\n", o.frames, time.Since(start).Round(time.Microsecond),
		rt.Pool().Stats(), dev.Factory.Stats(), cache.Stats())
	return nil
}

func submitFrame(rt *framegraph.Runtime, fd *FrameDesc, persistent map[string]*framegraph.Resource,
	cache *pipeline.Cache, dev *native.Device, out io.Writer,
) error {
	g, err := rt.BeginFrame()
	if err != nil {
		return err
	}
	names := fd.Build(g, persistent, cache)

	start := time.Now()
	if err := g.Submit(context.Background(), rt.Workers(), dev.Queue); err != nil {
		return err
	}
	if err := dev.Queue.WaitIdle(native.DefaultTimeout); err != nil {
		return err
	}
	rt.Observe(dev.Queue.Completed())

	fmt.Fprintf(out, "frame %d (%s, %v)\n", g.Fence(), fd.Name, time.Since(start).Round(time.Microsecond))
	for _, n := range g.Nodes() {
		fmt.Fprintf(out, "  %-12s %s\n", n.Name(), describe(n.Transitions(), names))
	}
	return nil
}

// describe formats transitions with resource names.
func describe(ts []framegraph.Transition, names map[framegraph.Handle]string) string {
	if len(ts) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ts))
	for _, t := range ts {
		name, ok := names[t.Handle]
		if !ok {
			name = t.Handle.String()
		}
		s := fmt.Sprintf("%s %v->%v", name, t.Before, t.After)
		if t.Alias {
			s += " (alias)"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

// stubCompiler emits the SPIR-V magic word only.
func stubCompiler(string) ([]uint32, error) {
	return []uint32{0x07230203}, nil
}

func openNoop() (hal.Device, hal.Queue, func(), error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, nil, errors.New("no adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, nil, fmt.Errorf("open device: %w", err)
	}
	return openDev.Device, openDev.Queue, func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}, nil
}
