package assets

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryHost keeps assets in process memory. It backs offline sessions and tests.
type MemoryHost struct {
	mu      sync.Mutex
	tag     string
	baseURL string
	next    int
	objects map[string]memoryObject
}

type memoryObject struct {
	data   []byte
	tag    string
	ideaID string
}

// NewMemoryHost constructs an empty host labelling uploads with tag.
func NewMemoryHost(tag string) *MemoryHost {
	if tag == "" {
		tag = DefaultTag
	}
	return &MemoryHost{
		tag:     tag,
		baseURL: "memory://assets",
		objects: make(map[string]memoryObject),
	}
}

// Upload stores a copy of data.
func (h *MemoryHost) Upload(ctx context.Context, data []byte, ideaID string) (Asset, error) {
	if err := validateUpload(data, ideaID); err != nil {
		return Asset{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := fmt.Sprintf("%s%06d", keyPrefix, h.next)
	h.objects[id] = memoryObject{data: append([]byte(nil), data...), tag: h.tag, ideaID: ideaID}
	return Asset{ID: id, URL: h.baseURL + "/" + id, IdeaID: ideaID}, nil
}

// Put registers an asset with an explicit tag and idea annotation.
func (h *MemoryHost) Put(assetID, tag, ideaID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.objects[assetID] = memoryObject{tag: tag, ideaID: ideaID}
}

// ListByTag returns assets carrying tag, ordered by id.
func (h *MemoryHost) ListByTag(ctx context.Context, tag string) ([]TaggedAsset, error) {
	if tag == "" {
		tag = h.tag
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]TaggedAsset, 0, len(h.objects))
	for id, object := range h.objects {
		if object.tag != tag {
			continue
		}
		result = append(result, TaggedAsset{AssetID: id, IdeaID: object.ideaID})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AssetID < result[j].AssetID })
	return result, nil
}

// Delete removes an asset.
func (h *MemoryHost) Delete(ctx context.Context, assetID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.objects[assetID]; !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, assetID)
	}
	delete(h.objects, assetID)
	return nil
}

// Len reports how many assets are stored.
func (h *MemoryHost) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}
