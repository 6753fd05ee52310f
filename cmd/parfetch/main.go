// Command parfetch is the process entry point: it wires the real OS
// environment, filesystem, clock, and terminal into internal/app.Run
// and translates its result into spec.md §6's exit codes.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/spf13/afero"
	"golang.org/x/term"

	"log/slog"

	"github.com/t6/parfetch/internal/app"
	"github.com/t6/parfetch/internal/progress"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := app.LoadOptions(os.Getenv, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	out := colorable.NewColorable(os.Stdout)
	logger := slog.New(tint.NewHandler(out, &tint.Options{
		Level:      slog.LevelInfo,
		NoColor:    !isTTY,
		TimeFormat: time.Kitchen,
	}))

	sizer := func() (width, height int, err error) {
		return term.GetSize(int(os.Stdout.Fd()))
	}
	prog := progress.NewReporter(out, isTTY, sizer, 0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchResize(ctx, prog)

	deps := app.Deps{
		Fs:       afero.NewOsFs(),
		Logger:   logger,
		Stdout:   os.Stdout,
		Now:      func() int64 { return time.Now().Unix() },
		Rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		Progress: prog,
	}

	if err := app.Run(ctx, opts, deps); err != nil {
		logger.Error(err.Error())
		return 1
	}
	return 0
}

// watchResize re-renders the progress widget's scrolling region on
// SIGWINCH, per spec.md §4.7, until ctx is cancelled.
func watchResize(ctx context.Context, prog *progress.Reporter) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			prog.HandleResize()
		}
	}
}
