// Package character provides loading of character packs: the persona,
// greeting and knowledge of each character the service can play.
//
// Each character lives in a named subdirectory holding a pack.yaml file.
//
// Typical layout (relative to the characters root):
//
//	dr_python/pack.yaml
//	yu_gwansun/pack.yaml
package character

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	knowledgespec "github.com/bdobrica/Kioku/common/spec/knowledge"
)

// PackFile is the file name looked up in each character directory.
const PackFile = "pack.yaml"

// ErrUnknown is returned for character IDs with no loaded pack.
var ErrUnknown = errors.New("character: unknown character")

// Character is the persona half of a pack.
type Character = knowledgespec.Character

// Registry holds the loaded character packs.
//
// Example:
//
//	reg := character.NewRegistry()
//	err := reg.LoadFS(os.DirFS("/etc/kioku/characters"))
type Registry struct {
	mu    sync.RWMutex
	packs map[string]*knowledgespec.Pack
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{packs: make(map[string]*knowledgespec.Pack)}
}

// List returns the names of all subdirectories of root that contain a
// pack file.
func List(root fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(root, ".")
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := fs.Stat(root, e.Name()+"/"+PackFile); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// LoadFS parses and validates every pack under root and registers it. On
// any error nothing is registered.
func (r *Registry) LoadFS(root fs.FS) error {
	names, err := List(root)
	if err != nil {
		return err
	}

	loaded := make([]*knowledgespec.Pack, 0, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(root, name+"/"+PackFile)
		if err != nil {
			return fmt.Errorf("character %q: %w", name, err)
		}
		p, err := knowledgespec.Parse(raw)
		if err != nil {
			return fmt.Errorf("character %q: %w", name, err)
		}
		loaded = append(loaded, p)
	}

	for _, p := range loaded {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Register validates and adds a single pack, replacing any pack with the
// same character ID.
func (r *Registry) Register(p *knowledgespec.Pack) error {
	if err := knowledgespec.Validate(p); err != nil {
		return fmt.Errorf("character %q: %w", p.Character.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packs[p.Character.ID] = p
	return nil
}

// Get returns the persona of a character.
func (r *Registry) Get(id string) (Character, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packs[id]
	if !ok {
		return Character{}, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	return p.Character, nil
}

// IDs returns the registered character IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.packs))
	for id := range r.packs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Packs returns the registered packs sorted by character ID.
func (r *Registry) Packs() []*knowledgespec.Pack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*knowledgespec.Pack, 0, len(r.packs))
	for _, p := range r.packs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Character.ID < out[j].Character.ID })
	return out
}

// Text renders the character identity used as the stable head of every
// prompt.
func Text(c Character) string {
	persona := strings.TrimSpace(c.Persona)
	if c.Name == "" {
		return persona
	}
	return "You are " + c.Name + ".\n\n" + persona
}
