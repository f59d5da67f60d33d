package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDelay = 200 * time.Millisecond

// watch runs the files once, then again on a fresh runtime whenever one of
// them is written, created or renamed.
func (a *app) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	watched := make(map[string]bool)
	for _, file := range a.files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return err
		}
		watched[abs] = true
		// editors replace files; watch the directory
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watch %s: %w", file, err)
		}
	}

	rerun := make(chan struct{}, 1)
	a.report(a.runOnce(ctx))

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[event.Name] {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				select {
				case rerun <- struct{}{}:
				default:
				}
			})

		case <-rerun:
			a.log.Info("file changed, re-running")
			a.report(a.runOnce(ctx))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (a *app) report(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Done.")
}
