package preset

// Load parses text into a fresh Collection with no default-resolution
// context, the external API's "load a preset file from disk" case. A
// preset needing a bare-identifier default (spec.md §4.5's shorthand) can
// only be resolved against a caller-supplied library — use Parse directly
// with that Collection when that matters; Load exists for the common case
// of loading a self-contained preset file such as the one a user just
// saved with Save.
func Load(text string) (*Collection, error) {
	return Parse(text, nil)
}

// Save prints c in the canonical form the parser accepts back, so
// Save/Load round-trip.
func Save(c *Collection) string {
	return Print(c)
}
