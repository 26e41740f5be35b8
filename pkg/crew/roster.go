package crew

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"crewlink/pkg/protocol"
)

// rosterFallbackPoll is the safety-net reload interval used when watching a
// roster file, in case an fsnotify event is missed.
const rosterFallbackPoll = 60 * time.Second

// rosterFile is the on-disk TOML shape:
//
//	[[execution]]
//	id = "exec-1"
//	members = [
//	    { agent_id = "planner", role = "planning" },
//	    { agent_id = "builder" },
//	]
type rosterFile struct {
	Execution []struct {
		ID      string   `toml:"id"`
		Members []Member `toml:"members"`
	} `toml:"execution"`
}

// Roster is a Registry backed by a TOML file. Watch keeps it current as the
// file changes.
type Roster struct {
	path string

	mu    sync.RWMutex
	crews map[string][]Member
}

// NewRoster loads the roster file at path. The file must exist and parse.
func NewRoster(path string) (*Roster, error) {
	r := &Roster{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the roster file. On error the previous roster stays in
// effect.
func (r *Roster) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}

	var rf rosterFile
	if err := toml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse roster: %w", err)
	}

	crews := make(map[string][]Member, len(rf.Execution))
	for _, ex := range rf.Execution {
		if ex.ID == "" {
			return fmt.Errorf("parse roster: execution with empty id")
		}
		crews[ex.ID] = ex.Members
	}

	r.mu.Lock()
	r.crews = crews
	r.mu.Unlock()
	return nil
}

// Members implements Registry.
func (r *Roster) Members(_ context.Context, executionID string) ([]Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.crews[executionID]
	if !ok {
		return nil, &protocol.NotFoundError{Resource: "execution", ID: executionID}
	}
	return append([]Member(nil), members...), nil
}

// Watch reloads the roster when the file changes. Falls back to periodic
// polling if the watcher cannot be created. Blocks until ctx is cancelled.
func (r *Roster) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.watchPoll(ctx)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(r.path); err != nil {
		r.watchPoll(ctx)
		return
	}

	// Safety-net poll in case an event is missed
	ticker := time.NewTicker(rosterFallbackPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-watcher.Events:
			_ = r.Reload()
		case <-watcher.Errors:
			// Next poll tick picks up any change the watcher dropped.
		case <-ticker.C:
			_ = r.Reload()
		}
	}
}

// watchPoll is the fallback reload loop when fsnotify is unavailable.
func (r *Roster) watchPoll(ctx context.Context) {
	ticker := time.NewTicker(rosterFallbackPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Reload()
		}
	}
}
