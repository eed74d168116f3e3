// Package skills implements the skill registry: syncing
// skill descriptors from two root sets — project roots and user roots —
// with project taking precedence on a name collision, content-hashed so
// callers can detect a skill body changing between syncs, and an
// fsnotify-based watcher on the root directories that re-syncs when a
// skill directory is added, removed or renamed.
//
// Grounded on a precedent in internal/skills/manager.go (Manager,
// StartWatching/watchLoop/refreshWatches debounce pattern) and
// internal/skills/discovery.go's LocalSource.Discover (one subdirectory
// per skill, a fixed marker filename, skip-and-warn on a bad entry).
package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/worldrt/internal/worldbus"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// SkillFilename is the marker file identifying a skill directory.
const SkillFilename = "SKILL.md"

// RootKind distinguishes the two root sets the skill registry syncs from.
type RootKind string

const (
	RootProject RootKind = "project"
	RootUser    RootKind = "user"
)

// Descriptor is one synced skill: enough metadata to decide eligibility
// and detect content changes without loading the full body.
type Descriptor struct {
	Name        string
	Description string
	Path        string
	Root        RootKind
	ContentHash string
	ModifiedAt  time.Time
	// Tools lists tool names this skill registers for auto-allow in the
	// approval policy (see hitl.PolicyChecker.RegisterSkillTools).
	Tools []string
}

// frontmatter is the YAML header of a SKILL.md file.
type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       []string `yaml:"tools"`
}

// Registry holds the last-synced descriptor set for one world and
// optionally watches its roots for changes.
type Registry struct {
	mu            sync.RWMutex
	projectRoots  []string
	userRoots     []string
	descriptors   map[string]Descriptor
	logger        *slog.Logger
	bus           *worldbus.Bus
	watchDebounce time.Duration

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchPaths  map[string]struct{}
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// New creates a Registry. projectRoots are consulted before userRoots, so a
// skill name present under both wins from its project-root copy.
func New(projectRoots, userRoots []string, bus *worldbus.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		projectRoots:  projectRoots,
		userRoots:     userRoots,
		descriptors:   make(map[string]Descriptor),
		logger:        logger.With("component", "skills"),
		bus:           bus,
		watchDebounce: 250 * time.Millisecond,
	}
}

// Sync rescans both root sets and replaces the descriptor set atomically.
// A skill name discovered under a project root shadows the same name under
// a user root; the shadowed entry is dropped, not merged.
func (r *Registry) Sync(ctx context.Context) error {
	merged := make(map[string]Descriptor)

	project, err := scanRoots(ctx, r.projectRoots, RootProject, r.logger)
	if err != nil {
		return fmt.Errorf("scan project roots: %w", err)
	}
	for _, d := range project {
		merged[d.Name] = d
	}

	user, err := scanRoots(ctx, r.userRoots, RootUser, r.logger)
	if err != nil {
		return fmt.Errorf("scan user roots: %w", err)
	}
	for _, d := range user {
		if _, exists := merged[d.Name]; exists {
			continue
		}
		merged[d.Name] = d
	}

	r.mu.Lock()
	changed := !sameDescriptors(r.descriptors, merged)
	r.descriptors = merged
	r.mu.Unlock()

	r.logger.Info("synced skills", "count", len(merged))

	if changed && r.bus != nil {
		r.bus.EmitSystem(ctx, nil, models.SystemPayload{
			Kind: models.SystemSkillsChanged,
			Extra: map[string]any{
				"count": len(merged),
			},
		})
	}

	return nil
}

// Get returns a synced skill descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// List returns all synced descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadContent reads a skill's markdown body on demand; descriptors never
// carry content so a sync stays cheap.
func (r *Registry) LoadContent(name string) (string, error) {
	d, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("skill not found: %s", name)
	}
	body, err := os.ReadFile(filepath.Join(d.Path, SkillFilename))
	if err != nil {
		return "", fmt.Errorf("read skill file: %w", err)
	}
	return string(body), nil
}

func scanRoots(ctx context.Context, roots []string, kind RootKind, logger *slog.Logger) ([]Descriptor, error) {
	var out []Descriptor
	for _, root := range roots {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		found, err := scanRoot(root, kind, logger)
		if err != nil {
			return out, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func scanRoot(root string, kind RootKind, logger *slog.Logger) ([]Descriptor, error) {
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read root: %w", err)
	}

	var out []Descriptor
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		skillPath := filepath.Join(root, e.Name())
		skillFile := filepath.Join(skillPath, SkillFilename)

		fi, err := os.Stat(skillFile)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			logger.Warn("skip skill, stat failed", "path", skillPath, "error", err)
			continue
		}

		raw, err := os.ReadFile(skillFile)
		if err != nil {
			logger.Warn("skip skill, read failed", "path", skillPath, "error", err)
			continue
		}

		fm, err := parseFrontmatter(raw)
		if err != nil {
			logger.Warn("skip skill, bad frontmatter", "path", skillPath, "error", err)
			continue
		}

		name := fm.Name
		if name == "" {
			name = e.Name()
		}

		out = append(out, Descriptor{
			Name:        name,
			Description: fm.Description,
			Path:        skillPath,
			Root:        kind,
			ContentHash: hashBytes(raw),
			ModifiedAt:  fi.ModTime(),
			Tools:       fm.Tools,
		})
	}
	return out, nil
}

// parseFrontmatter extracts the YAML header between the leading "---"
// delimiters. A missing or unterminated header yields a zero-value
// frontmatter rather than an error — the skill still gets a descriptor,
// named after its directory. A header that is not valid YAML is an error,
// and scanRoot skips that skill.
func parseFrontmatter(data []byte) (frontmatter, error) {
	text := string(data)
	if !strings.HasPrefix(strings.TrimLeft(text, "\r\n"), "---") {
		return frontmatter{}, nil
	}
	text = strings.TrimLeft(text, "\r\n")
	text = strings.TrimPrefix(text, "---")
	end := strings.Index(text, "---")
	if end < 0 {
		return frontmatter{}, nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(text[:end]), &fm); err != nil {
		return frontmatter{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func sameDescriptors(a, b map[string]Descriptor) bool {
	if len(a) != len(b) {
		return false
	}
	for name, da := range a {
		db, ok := b[name]
		if !ok || da.ContentHash != db.ContentHash || da.Root != db.Root {
			return false
		}
	}
	return true
}

// StartWatching watches every existing root directory (not recursively) and
// re-syncs after a debounce window when an entry in it is created, written,
// removed or renamed. Edits to files inside an existing skill directory are
// not observed. Roots that don't exist when watching starts are skipped
// silently and are not watched later; an explicit Sync still scans them
// (file watchers here are best-effort, not required for correctness).
func (r *Registry) StartWatching(ctx context.Context) error {
	r.watchMu.Lock()
	if r.watcher != nil {
		r.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.watchMu.Unlock()
		return err
	}
	r.watcher = watcher
	r.watchPaths = make(map[string]struct{})

	for _, root := range append(append([]string{}, r.projectRoots...), r.userRoots...) {
		if info, statErr := os.Stat(root); statErr == nil && info.IsDir() {
			cleaned := filepath.Clean(root)
			if addErr := watcher.Add(cleaned); addErr == nil {
				r.watchPaths[cleaned] = struct{}{}
			}
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	debounce := r.watchDebounce
	r.watchMu.Unlock()

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, debounce)
	return nil
}

// Close stops the watcher, if running.
func (r *Registry) Close() error {
	r.watchMu.Lock()
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, debounce time.Duration) {
	defer r.watchWg.Done()
	r.watchMu.Lock()
	watcher := r.watcher
	r.watchMu.Unlock()
	if watcher == nil {
		return
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleSync := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := r.Sync(context.Background()); err != nil {
				r.logger.Warn("skill sync failed during watch refresh", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleSync()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("skill watch error", "error", err)
		}
	}
}
