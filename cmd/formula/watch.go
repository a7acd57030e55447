package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// editors write a file in several steps; events closer than this are
// collapsed into one reload
const watchDebounce = 100 * time.Millisecond

func newWatchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <workbook.toml>",
		Short: "Recalculate and print a workbook every time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return watchWorkbook(ctx, args[0], func() {
				reload(ctx, args[0], opts)
			})
		},
	}
}

func reload(ctx context.Context, path string, opts *globalOptions) {
	wb, err := LoadWorkbook(path)
	if err != nil {
		printError("LOAD", err)
		return
	}
	s, err := wb.Build(ctx, opts.logger())
	if err != nil {
		printError("CALC", err)
		return
	}
	if err := showWorkbook(s); err != nil {
		printError("SHOW", err)
	}
}

// watchWorkbook calls onChange once up front and again after every write to
// path, until ctx ends. the parent directory is watched so that editors
// replacing the file by rename are followed.
func watchWorkbook(ctx context.Context, path string, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "resolving workbook path")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating watcher")
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "watching %s", filepath.Dir(abs))
	}

	onChange()
	printInfo("WATCH", abs)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			printError("WATCH", err)
		case <-debounce:
			debounce = nil
			onChange()
		}
	}
}
