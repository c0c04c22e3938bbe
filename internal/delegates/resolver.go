// Package delegates resolves validator names to hotkeys using static aliases
// and a cached copy of the public delegate directory.
package delegates

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"golang.org/x/sync/singleflight"
)

// TaoBotHotkey is the built-in default validator.
const TaoBotHotkey = "5E2LP6EnZ54m3wS8s1yPvD5c3xo71kQroBw7aUVK32TKeZ5u"

var builtinAliases = map[string]string{
	"tao.bot": TaoBotHotkey,
	"taobot":  TaoBotHotkey,
	"tao_bot": TaoBotHotkey,
	"default": TaoBotHotkey,
}

type Entry struct {
	Hotkey      string `json:"hotkey"`
	DisplayName string `json:"display_name"`
}

// Snapshot is one fetch of the directory. A zero FetchedAt means the
// directory was never loaded.
type Snapshot struct {
	Entries   []Entry   `json:"entries"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (s Snapshot) Empty() bool { return s.FetchedAt.IsZero() }

// Directory fetches the full delegate list from its origin.
type Directory interface {
	Fetch(ctx context.Context) ([]Entry, error)
}

// SnapshotStore persists the last good snapshot across restarts.
type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, bool, error)
	Save(ctx context.Context, snap Snapshot) error
}

type Options struct {
	// Aliases map lower-cased names to hotkeys and override the built-ins.
	Aliases   map[string]string
	TTL       time.Duration
	Directory Directory
	Store     SnapshotStore
	Logger    *slog.Logger
	Now       func() time.Time
}

type Resolver struct {
	aliases map[string]string
	ttl     time.Duration
	dir     Directory
	store   SnapshotStore
	log     *slog.Logger
	now     func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	snapshot Snapshot
	loaded   bool
}

func New(opts Options) *Resolver {
	aliases := make(map[string]string, len(builtinAliases)+len(opts.Aliases))
	for k, v := range builtinAliases {
		aliases[k] = v
	}
	for k, v := range opts.Aliases {
		name := strings.ToLower(strings.TrimSpace(k))
		if name != "" && strings.TrimSpace(v) != "" {
			aliases[name] = strings.TrimSpace(v)
		}
	}
	r := &Resolver{
		aliases: aliases,
		ttl:     opts.TTL,
		dir:     opts.Directory,
		store:   opts.Store,
		log:     opts.Logger,
		now:     opts.Now,
	}
	if r.ttl <= 0 {
		r.ttl = time.Hour
	}
	if r.log == nil {
		r.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Resolve maps nameOrHotkey to a hotkey. Hotkeys pass through unchanged,
// then aliases, then exact and unique-prefix display-name matches against the
// directory.
func (r *Resolver) Resolve(ctx context.Context, nameOrHotkey string) (string, error) {
	v := strings.TrimSpace(nameOrHotkey)
	if v == "" {
		return "", clierr.New(clierr.CodeNotFound, "no validator given")
	}
	if IsHotkey(v) {
		return v, nil
	}
	name := strings.ToLower(v)
	if hk, ok := r.aliases[name]; ok {
		return hk, nil
	}

	snap, err := r.current(ctx)
	if err != nil {
		return "", err
	}
	return match(snap, v)
}

// DisplayName returns a human label for hotkey. Lookups never refresh the
// directory and never fail.
func (r *Resolver) DisplayName(ctx context.Context, hotkey string) string {
	r.loadPersisted(ctx)
	r.mu.RLock()
	entries := r.snapshot.Entries
	r.mu.RUnlock()
	for _, e := range entries {
		if e.Hotkey == hotkey && e.DisplayName != "" {
			return e.DisplayName
		}
	}
	if hotkey == TaoBotHotkey {
		return "tao.bot"
	}
	var names []string
	for name, hk := range r.aliases {
		if hk == hotkey {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		return names[0]
	}
	return shortHotkey(hotkey)
}

// Snapshot returns the snapshot currently served.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Refresh fetches the directory now. Concurrent callers share one fetch.
func (r *Resolver) Refresh(ctx context.Context) (Snapshot, error) {
	return r.refresh(ctx, true)
}

func (r *Resolver) refresh(ctx context.Context, force bool) (Snapshot, error) {
	if r.dir == nil {
		return Snapshot{}, clierr.New(clierr.CodeDirectoryUnavailable, "no delegate directory configured")
	}
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		if !force {
			// A flight that finished just before this one started already
			// brought the snapshot up to date.
			if snap := r.Snapshot(); r.fresh(snap) {
				return snap, nil
			}
		}
		entries, err := r.dir.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		snap := Snapshot{Entries: entries, FetchedAt: r.now()}
		r.mu.Lock()
		r.snapshot = snap
		r.loaded = true
		r.mu.Unlock()
		if r.store != nil {
			if err := r.store.Save(ctx, snap); err != nil {
				r.log.Warn("persist delegate snapshot", "error", err)
			}
		}
		r.log.Info("delegate directory refreshed", "entries", len(entries))
		return snap, nil
	})
	if err != nil {
		return Snapshot{}, clierr.Wrap(clierr.CodeDirectoryUnavailable, "fetch delegate directory", err)
	}
	return v.(Snapshot), nil
}

// current returns a snapshot no older than the TTL when the directory is
// reachable, or the last good one when it is not.
func (r *Resolver) current(ctx context.Context) (Snapshot, error) {
	r.loadPersisted(ctx)

	r.mu.RLock()
	snap := r.snapshot
	r.mu.RUnlock()
	if r.fresh(snap) {
		return snap, nil
	}

	fresh, err := r.refresh(ctx, false)
	if err == nil {
		return fresh, nil
	}
	if snap.Empty() {
		return Snapshot{}, err
	}
	r.log.Warn("delegate directory refresh failed, serving stale snapshot",
		"error", err, "fetched_at", snap.FetchedAt)
	return snap, nil
}

func (r *Resolver) fresh(snap Snapshot) bool {
	return !snap.Empty() && r.now().Sub(snap.FetchedAt) <= r.ttl
}

func (r *Resolver) loadPersisted(ctx context.Context) {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded || r.store == nil {
		return
	}

	snap, ok, err := r.store.Load(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return
	}
	r.loaded = true
	if err != nil {
		r.log.Warn("load persisted delegate snapshot", "error", err)
		return
	}
	if ok {
		r.snapshot = snap
	}
}

func match(snap Snapshot, query string) (string, error) {
	q := strings.ToLower(query)

	exact := map[string]string{}
	prefix := map[string]string{}
	for _, e := range snap.Entries {
		name := strings.ToLower(strings.TrimSpace(e.DisplayName))
		if name == "" {
			continue
		}
		if name == q {
			exact[e.Hotkey] = e.DisplayName
		}
		if strings.HasPrefix(name, q) {
			prefix[e.Hotkey] = e.DisplayName
		}
	}

	for _, candidates := range []map[string]string{exact, prefix} {
		switch len(candidates) {
		case 0:
			continue
		case 1:
			for hk := range candidates {
				return hk, nil
			}
		default:
			return "", clierr.New(clierr.CodeAmbiguous, fmt.Sprintf("%q matches several validators: %s", query, listNames(candidates)))
		}
	}
	return "", clierr.New(clierr.CodeNotFound, fmt.Sprintf("no validator matches %q", query))
}

func listNames(candidates map[string]string) string {
	names := make([]string, 0, len(candidates))
	for _, name := range candidates {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 5 {
		names = append(names[:5], fmt.Sprintf("and %d more", len(candidates)-5))
	}
	return strings.Join(names, ", ")
}
