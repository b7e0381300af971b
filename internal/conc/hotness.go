package conc

import (
	"encoding/json"
	"math"
	"os"
	"sync"

	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// halfLifeSeconds controls how fast a dimension's hotness score decays
// towards zero between touches (spec §4.9: "hotness decays with a half
// life so that cold dimensions drop out of the compaction ranking").
const halfLifeSeconds = 3600.0

// Hotness tracks an exponentially decaying touch-frequency score per
// (order, primary id) dimension, used to prioritize compaction.
type Hotness struct {
	mu     sync.Mutex
	scores map[hotKey]*hotEntry
	path   string
}

type hotKey struct {
	Order   uint8
	Primary uint64
}

type hotEntry struct {
	Score    float64 `json:"score"`
	UpdatedAt int64  `json:"updatedAt"`
}

type hotnessFile struct {
	Order   uint8   `json:"order"`
	Primary uint64  `json:"primary"`
	Score   float64 `json:"score"`
	Ts      int64   `json:"updatedAt"`
}

// NewHotness creates an empty tracker that persists to path (hotness.json).
func NewHotness(path string) *Hotness {
	return &Hotness{scores: make(map[hotKey]*hotEntry), path: path}
}

// Touch registers an access to (order, primary) at time now, decaying the
// existing score by elapsed half-lives before adding 1.
func (h *Hotness) Touch(order uint8, primary uint64, now int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := hotKey{order, primary}
	e, ok := h.scores[k]
	if !ok {
		h.scores[k] = &hotEntry{Score: 1, UpdatedAt: now}
		return
	}
	e.Score = decay(e.Score, e.UpdatedAt, now) + 1
	e.UpdatedAt = now
}

// Score returns the current decayed score for (order, primary) as of now,
// without mutating state.
func (h *Hotness) Score(order uint8, primary uint64, now int64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.scores[hotKey{order, primary}]
	if !ok {
		return 0
	}
	return decay(e.Score, e.UpdatedAt, now)
}

// Top returns up to n (order, primary, score) entries ranked by decayed
// score descending, as of now.
func (h *Hotness) Top(n int, now int64) []HotEntry {
	h.mu.Lock()
	out := make([]HotEntry, 0, len(h.scores))
	for k, e := range h.scores {
		out = append(out, HotEntry{Order: k.Order, Primary: k.Primary, Score: decay(e.Score, e.UpdatedAt, now)})
	}
	h.mu.Unlock()

	sortHotEntries(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// HotEntry is one ranked hotness observation.
type HotEntry struct {
	Order   uint8
	Primary uint64
	Score   float64
}

func sortHotEntries(entries []HotEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Score > entries[j-1].Score; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func decay(score float64, updatedAt, now int64) float64 {
	elapsed := float64(now - updatedAt)
	if elapsed <= 0 {
		return score
	}
	halfLives := elapsed / halfLifeSeconds
	return score * math.Pow(0.5, halfLives)
}

// Save persists the tracker to its path via atomic write-temp-then-rename.
func (h *Hotness) Save() error {
	h.mu.Lock()
	entries := make([]hotnessFile, 0, len(h.scores))
	for k, e := range h.scores {
		entries = append(entries, hotnessFile{Order: k.Order, Primary: k.Primary, Score: e.Score, Ts: e.UpdatedAt})
	}
	h.mu.Unlock()

	data, err := json.Marshal(entries)
	if err != nil {
		return nerr.Wrap(err, "hotness: marshaling")
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nerr.Wrap(err, "hotness: writing")
	}
	if err := os.Rename(tmp, h.path); err != nil {
		os.Remove(tmp)
		return nerr.Wrap(err, "hotness: installing")
	}
	return nil
}

// LoadHotness reads a previously saved tracker, or returns an empty one if
// no file exists yet.
func LoadHotness(path string) (*Hotness, error) {
	h := NewHotness(path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return h, nil
	}
	if err != nil {
		return nil, nerr.Wrap(err, "hotness: reading")
	}
	var entries []hotnessFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nerr.Corruption("hotness: malformed hotness file", err)
	}
	for _, e := range entries {
		h.scores[hotKey{e.Order, e.Primary}] = &hotEntry{Score: e.Score, UpdatedAt: e.Ts}
	}
	return h, nil
}
