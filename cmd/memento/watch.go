package main

import (
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"memento/internal/logging"
	"memento/internal/model"
	"memento/internal/sync"
)

var watchCmd = &cobra.Command{
	Use:   "watch <path>",
	Short: "Watch a directory tree and keep the knowledge graph in sync",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	p, err := openPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	coord := sync.New(p.entities, p.relationships, p.vectors, p.historyMgr,
		p.cache, p.parser, p.incremental, p.relate, p.newEmbedder(), p.bus, p.coordinatorOptions())
	defer coord.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, root, p.cfg.IgnoreGlobs); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", root)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ignored(ev.Name, root, p.cfg.IgnoreGlobs) {
				continue
			}
			handleFSEvent(coord, watcher, ev)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.SyncError("watcher error: %v", werr)
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "stopping...")
			return nil
		}
	}
}

// handleFSEvent translates one fsnotify.Event into the FileChange the Sync
// Coordinator expects (§6 Inputs); fsnotify has no native rename-pairing, so
// a Create immediately following a Rename of the same inode is not detected
// here — it surfaces as a plain delete+add, which process.go handles
// identically to a rename minus the RenamedFrom breadcrumb.
func handleFSEvent(coord *sync.Coordinator, watcher *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = watcher.Add(ev.Name)
			return
		}
		coord.Enqueue(model.FileChange{Type: model.ChangeAdd, Path: ev.Name})
	case ev.Op&fsnotify.Write != 0:
		coord.Enqueue(model.FileChange{Type: model.ChangeModify, Path: ev.Name})
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		coord.Enqueue(model.FileChange{Type: model.ChangeDelete, Path: ev.Name})
	}
}

// addRecursive registers every non-ignored directory under root with the
// watcher; fsnotify only watches one level, so new subdirectories are picked
// up as they arrive via handleFSEvent's Create branch.
func addRecursive(watcher *fsnotify.Watcher, root string, ignoreGlobs []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignored(path, root, ignoreGlobs) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// ignored reports whether path (relative to root) matches any of globs.
// Supports a leading "**/" meaning "at any depth" and a trailing "/**"
// meaning "this directory and everything under it", the two forms
// SPEC_FULL.md's sample config actually uses; anything else is matched with
// filepath.Match against the path relative to root.
func ignored(path, root string, globs []string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	for _, glob := range globs {
		if matchOneGlob(rel, glob) {
			return true
		}
	}
	return false
}

func matchOneGlob(rel, glob string) bool {
	switch {
	case strings.HasSuffix(glob, "/**"):
		prefix := strings.TrimSuffix(glob, "/**")
		return rel == prefix || strings.HasPrefix(rel, prefix+"/")
	case strings.HasPrefix(glob, "**/"):
		suffix := strings.TrimPrefix(glob, "**/")
		for _, seg := range strings.Split(rel, "/") {
			if ok, _ := filepath.Match(suffix, seg); ok {
				return true
			}
		}
		return false
	default:
		ok, _ := filepath.Match(glob, rel)
		return ok
	}
}
