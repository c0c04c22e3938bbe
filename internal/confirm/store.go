// Package confirm holds actionable intents that await an explicit confirm
// reply, keyed per platform user.
package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ggonzalez94/stakechat/internal/command"
	clierr "github.com/ggonzalez94/stakechat/internal/errors"
)

// Key identifies one conversation partner.
type Key struct {
	Platform string
	UserID   string
}

func (k Key) String() string {
	return k.Platform + ":" + k.UserID
}

// Pending is an intent that has been resolved and priced for confirmation
// but not executed. Wallet is the profile name; Coldkey is the address the
// chain is called with.
type Pending struct {
	Intent    command.Intent
	Hotkey    string
	Wallet    string
	Coldkey   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry can no longer be confirmed at now.
func (p Pending) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Store is the pending set. Every transition runs under one mutex, so a
// confirm racing a superseding command resolves to whichever locks first.
type Store struct {
	mu      sync.Mutex
	entries map[Key]Pending
	now     func() time.Time
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{entries: map[Key]Pending{}, now: now}
}

// Put installs p for key and returns the live entry it replaced, if any.
func (s *Store) Put(key Key, p Pending) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.entries[key]
	s.entries[key] = p
	if ok && prev.Expired(s.now()) {
		return Pending{}, false
	}
	return prev, ok
}

// Take removes and returns the entry for key. A missing entry yields
// CodeNothingPending; an expired one is dropped and yields CodeExpired.
func (s *Store) Take(key Key) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[key]
	if !ok {
		return Pending{}, clierr.New(clierr.CodeNothingPending, "nothing to confirm")
	}
	delete(s.entries, key)
	if p.Expired(s.now()) {
		return Pending{}, clierr.New(clierr.CodeExpired, fmt.Sprintf("confirmation for %q expired, please resend the command", p.Intent.Summary()))
	}
	return p, nil
}

// Remove drops the entry for key unconditionally. It reports the removed
// entry only when it was still live.
func (s *Store) Remove(key Key) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[key]
	if !ok {
		return Pending{}, false
	}
	delete(s.entries, key)
	if p.Expired(s.now()) {
		return Pending{}, false
	}
	return p, true
}

// Peek returns the live entry for key without consuming it.
func (s *Store) Peek(key Key) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[key]
	if !ok || p.Expired(s.now()) {
		return Pending{}, false
	}
	return p, true
}

// Sweep deletes expired entries and returns how many were removed. Expiry
// is observable without it; it only bounds memory.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, p := range s.entries {
		if p.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Janitor calls Sweep every interval until ctx is done.
func (s *Store) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len counts stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
