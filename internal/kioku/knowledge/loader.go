package knowledge

import (
	"context"
	"fmt"

	knowledgespec "github.com/bdobrica/Kioku/common/spec/knowledge"
)

// LoadPacks loads the knowledge of every pack, one character per pack.
// Packs are expected to be validated already (knowledgespec.Parse).
func (ix *Index) LoadPacks(packs []*knowledgespec.Pack) error {
	for _, p := range packs {
		if err := ix.Load(p.Character.ID, p.Knowledge); err != nil {
			return fmt.Errorf("knowledge: load pack %q: %w", p.Character.ID, err)
		}
	}
	return nil
}

// ItemSource lists persisted knowledge items. *store.Store implements it.
type ItemSource interface {
	ListKnowledgeItems(ctx context.Context) ([]Item, error)
}

// LoadFrom adds every item of src on top of what is already indexed.
// Items whose ID is already indexed or that fail validation are skipped
// and logged. It returns the number of items added.
func (ix *Index) LoadFrom(ctx context.Context, src ItemSource) (int, error) {
	items, err := src.ListKnowledgeItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("knowledge: list stored items: %w", err)
	}

	added := 0
	for _, item := range items {
		if _, exists := ix.Get(item.ID); exists {
			ix.logger.Warn("knowledge: skip stored item with duplicate id", "item_id", item.ID)
			continue
		}
		if _, err := ix.Add(item); err != nil {
			ix.logger.Warn("knowledge: skip invalid stored item", "item_id", item.ID, "err", err)
			continue
		}
		added++
	}
	return added, nil
}
