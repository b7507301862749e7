// Package knowledge is the per-character knowledge index: a registry of
// character-specific facts searched by keyword-weighted scoring.
//
// The index is copy-on-write. Writers build a new snapshot under a mutex and
// publish it atomically; readers never lock.
package knowledge

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	knowledgespec "github.com/bdobrica/Kioku/common/spec/knowledge"
)

// Item is a single character-specific fact.
type Item = knowledgespec.Item

// ValidationError is returned for items rejected at the boundary.
type ValidationError = knowledgespec.ValidationError

// ErrUnknownCharacter is returned by writes that name no character.
var ErrUnknownCharacter = errors.New("knowledge: unknown character")

type snapshot struct {
	byCharacter map[string][]Item
	byID        map[string]Item
}

// Index holds the knowledge items of every character.
type Index struct {
	mu     sync.Mutex // serializes writers
	snap   atomic.Pointer[snapshot]
	logger *slog.Logger
}

// NewIndex returns an empty index. If logger is nil, the default slog logger
// is used.
func NewIndex(logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Index{logger: logger}
	ix.snap.Store(&snapshot{
		byCharacter: map[string][]Item{},
		byID:        map[string]Item{},
	})
	return ix
}

// clone copies the current snapshot's maps. Item slices are copied only for
// characters the caller is about to change.
func (ix *Index) clone() *snapshot {
	cur := ix.snap.Load()
	next := &snapshot{
		byCharacter: make(map[string][]Item, len(cur.byCharacter)+1),
		byID:        make(map[string]Item, len(cur.byID)+1),
	}
	for k, v := range cur.byCharacter {
		next.byCharacter[k] = v
	}
	for k, v := range cur.byID {
		next.byID[k] = v
	}
	return next
}

// Load replaces the items of characterID. Every item is validated first; on
// any failure nothing changes. Items without an ID get one; items without a
// character ID are assigned characterID.
func (ix *Index) Load(characterID string, items []Item) error {
	if strings.TrimSpace(characterID) == "" {
		return fmt.Errorf("%w: empty character id", ErrUnknownCharacter)
	}

	prepared := make([]Item, 0, len(items))
	for i, item := range items {
		item = normalize(item, characterID)
		if item.CharacterID != characterID {
			return &ValidationError{
				Field:  fmt.Sprintf("items[%d].character_id", i),
				Reason: fmt.Sprintf("%q does not match character %q", item.CharacterID, characterID),
			}
		}
		if err := knowledgespec.ValidateItem(item); err != nil {
			return fmt.Errorf("items[%d]: %w", i, err)
		}
		prepared = append(prepared, item)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	next := ix.clone()
	for _, old := range next.byCharacter[characterID] {
		delete(next.byID, old.ID)
	}
	next.byCharacter[characterID] = prepared
	for _, item := range prepared {
		next.byID[item.ID] = item
	}
	ix.snap.Store(next)

	ix.logger.Info("knowledge loaded", "character_id", characterID, "items", len(prepared))
	return nil
}

// Add validates item and appends it to its character, registering the
// character if needed. The stored item, with its assigned ID, is returned.
func (ix *Index) Add(item Item) (Item, error) {
	if strings.TrimSpace(item.CharacterID) == "" {
		return Item{}, fmt.Errorf("%w: item has no character id", ErrUnknownCharacter)
	}
	item = normalize(item, item.CharacterID)
	if err := knowledgespec.ValidateItem(item); err != nil {
		return Item{}, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	next := ix.clone()
	if _, dup := next.byID[item.ID]; dup {
		return Item{}, &ValidationError{Field: "id", Reason: fmt.Sprintf("duplicate id %q", item.ID)}
	}
	old := next.byCharacter[item.CharacterID]
	items := make([]Item, len(old), len(old)+1)
	copy(items, old)
	next.byCharacter[item.CharacterID] = append(items, item)
	next.byID[item.ID] = item
	ix.snap.Store(next)

	ix.logger.Debug("knowledge item added", "character_id", item.CharacterID, "item_id", item.ID)
	return item, nil
}

// Get returns an item by ID.
func (ix *Index) Get(id string) (Item, bool) {
	item, ok := ix.snap.Load().byID[id]
	return item, ok
}

// Characters returns the known character IDs, sorted.
func (ix *Index) Characters() []string {
	snap := ix.snap.Load()
	out := make([]string, 0, len(snap.byCharacter))
	for id := range snap.byCharacter {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Has reports whether characterID is registered.
func (ix *Index) Has(characterID string) bool {
	_, ok := ix.snap.Load().byCharacter[characterID]
	return ok
}

// Items returns a copy of the items of characterID in load order.
func (ix *Index) Items(characterID string) []Item {
	items := ix.snap.Load().byCharacter[characterID]
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Len returns the total number of indexed items.
func (ix *Index) Len() int {
	return len(ix.snap.Load().byID)
}

func normalize(item Item, characterID string) Item {
	if item.CharacterID == "" {
		item.CharacterID = characterID
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	return item
}
