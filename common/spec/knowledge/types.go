// Package knowledge defines the on-disk and on-wire schema of character
// packs (kioku/v1): one YAML document per character carrying its persona,
// greeting and the knowledge items the character can draw on.
package knowledge

// SpecVersion is the API version string required in every pack.
const SpecVersion = "kioku/v1"

// Pack is the root type of a character pack file.
type Pack struct {
	// APIVersion must be "kioku/v1".
	APIVersion string `yaml:"apiVersion" json:"apiVersion"`

	// Character identifies the persona the knowledge belongs to.
	Character Character `yaml:"character" json:"character"`

	// Knowledge lists the facts retrievable for this character.
	Knowledge []Item `yaml:"knowledge,omitempty" json:"knowledge,omitempty"`
}

// Character is the persona section of a pack. Persona text is an input to
// the prompt assembler and is never edited by the engine.
type Character struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Persona  string `yaml:"persona" json:"persona"`
	Greeting string `yaml:"greeting,omitempty" json:"greeting,omitempty"`
}

// Item is a single character-specific fact. Content is immutable once
// indexed; updates are modelled as new items.
type Item struct {
	ID          string   `yaml:"id,omitempty" json:"id"`
	CharacterID string   `yaml:"character_id,omitempty" json:"character_id"`
	Title       string   `yaml:"title" json:"title"`
	Content     string   `yaml:"content" json:"content"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Category    string   `yaml:"category" json:"category"`
	Priority    *int     `yaml:"priority,omitempty" json:"priority,omitempty"`
}
