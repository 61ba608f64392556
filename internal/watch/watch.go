// Package watch re-runs an action when a repository's HEAD or branches move.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/gitpatcher-go/internal/debounce"
)

const DefaultDelay = 350 * time.Millisecond

// Paths returns the directories to watch for repoRoot: its git directory
// (following a "gitdir:" file as used by submodules) and refs/heads.
func Paths(repoRoot string) ([]string, error) {
	gitDir, err := resolveGitDir(repoRoot)
	if err != nil {
		return nil, err
	}
	paths := []string{gitDir}
	heads := filepath.Join(gitDir, "refs", "heads")
	if info, err := os.Stat(heads); err == nil && info.IsDir() {
		paths = append(paths, heads)
	}
	return paths, nil
}

func resolveGitDir(root string) (string, error) {
	dotGit := filepath.Join(root, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", fmt.Errorf("find git directory: %w", err)
	}
	if info.IsDir() {
		return dotGit, nil
	}
	data, err := os.ReadFile(dotGit)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", dotGit, err)
	}
	line := strings.TrimSpace(string(data))
	dir, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", fmt.Errorf("%s: not a gitdir file", dotGit)
	}
	dir = strings.TrimSpace(dir)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return filepath.Clean(dir), nil
}

// Run calls fn whenever files under paths change, after delay has passed
// without further changes. Calls never overlap. Run returns when ctx is
// done.
func Run(ctx context.Context, paths []string, delay time.Duration, logger *slog.Logger, fn func(context.Context)) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	for _, p := range paths {
		logger.Debug("adding path to FS watcher", slog.String("path", p))
		if err := watcher.Add(p); err != nil {
			err := errors.Join(err, watcher.Close())
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}

	fire := make(chan struct{}, 1)
	d := debounce.New(delay, func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
	defer d.Stop()

	for {
		select {
		case <-ctx.Done():
			return watcher.Close()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if shouldIgnoreWatchPath(ev.Name) {
				continue
			}
			logger.Debug("fsnotify event",
				slog.String("op", ev.Op.String()),
				slog.String("path", ev.Name),
			)
			d.Trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("fsnotify error", slog.Any("error", err))
		case <-fire:
			fn(ctx)
		}
	}
}

func shouldIgnoreWatchPath(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".lock" || ext == ".ipc"
}
