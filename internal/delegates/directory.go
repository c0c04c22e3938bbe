package delegates

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ggonzalez94/stakechat/internal/cache"
	"github.com/ggonzalez94/stakechat/internal/httpx"
)

// DefaultDirectoryURL is the public delegate registry.
const DefaultDirectoryURL = "https://raw.githubusercontent.com/opentensor/bittensor-delegates/main/public/delegates.json"

// HTTPDirectory reads a delegates.json document shaped as
// {"<hotkey>": {"name": "..."}, ...}.
type HTTPDirectory struct {
	URL    string
	Client *httpx.Client
}

type delegateInfo struct {
	Name string `json:"name"`
}

func (d HTTPDirectory) Fetch(ctx context.Context) ([]Entry, error) {
	url := strings.TrimSpace(d.URL)
	if url == "" {
		url = DefaultDirectoryURL
	}
	client := d.Client
	if client == nil {
		client = httpx.New(20*time.Second, 2)
	}

	var doc map[string]delegateInfo
	if err := client.GetJSON(ctx, url, &doc); err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("delegate directory at %s is empty", url)
	}

	entries := make([]Entry, 0, len(doc))
	for hotkey, info := range doc {
		hotkey = strings.TrimSpace(hotkey)
		if hotkey == "" {
			continue
		}
		entries = append(entries, Entry{Hotkey: hotkey, DisplayName: strings.TrimSpace(info.Name)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Hotkey < entries[j].Hotkey })
	return entries, nil
}

// CacheStore keeps the snapshot in the SQLite cache under a fixed key.
type CacheStore struct {
	Cache *cache.Store
	Key   string
}

const defaultCacheKey = "delegates.v1"

func (s CacheStore) key() string {
	if s.Key == "" {
		return defaultCacheKey
	}
	return s.Key
}

func (s CacheStore) Load(ctx context.Context) (Snapshot, bool, error) {
	// Staleness is decided by the resolver from FetchedAt.
	res, err := s.Cache.Get(ctx, s.key(), 0)
	if err != nil {
		return Snapshot{}, false, err
	}
	if !res.Hit {
		return Snapshot{}, false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(res.Value, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode delegate snapshot: %w", err)
	}
	snap.FetchedAt = res.FetchedAt
	return snap, true, nil
}

func (s CacheStore) Save(ctx context.Context, snap Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode delegate snapshot: %w", err)
	}
	return s.Cache.Put(ctx, s.key(), buf, snap.FetchedAt)
}
