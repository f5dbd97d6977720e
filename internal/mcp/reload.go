package mcp

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/causalvault/internal/confidence"
	"github.com/ppiankov/causalvault/internal/policy"
)

// Reloader watches the policy and confidence files for changes and
// hot-swaps the active configs on the session manager.
type Reloader struct {
	watcher        *fsnotify.Watcher
	server         *Server
	policyPath     string
	confidencePath string
}

// NewReloader creates a file watcher for the config paths. Paths that do
// not exist yet are skipped.
func NewReloader(server *Server, policyPath, confidencePath string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	for _, path := range []string{policyPath, confidencePath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", path, err)
		}
	}

	return &Reloader{
		watcher:        watcher,
		server:         server,
		policyPath:     policyPath,
		confidencePath: confidencePath,
	}, nil
}

func (r *Reloader) reload(path string) error {
	switch path {
	case r.confidencePath:
		cfg, err := confidence.LoadConfig(r.confidencePath)
		if err != nil {
			return err
		}
		r.server.mgr.SetConfidence(confidence.New(cfg))
	default:
		cfg, hash, err := policy.LoadConfigWithHash(r.policyPath)
		if err != nil {
			return err
		}
		r.server.mgr.SetPolicy(cfg, hash)
	}
	return nil
}

// Run watches for file changes and reloads configs. Blocks until ctx is
// cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: wait 500ms after last write before reloading
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				path := event.Name
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := r.reload(path); err != nil {
						fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
					} else {
						fmt.Fprintf(os.Stderr, "hot-reload: config reloaded: %s\n", path)
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "file watcher error: %v\n", err)
		}
	}
}
