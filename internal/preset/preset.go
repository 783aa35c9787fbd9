package preset

// Preset is spec.md §3's FilterPreset: an ordered map from parameter
// names to typed values, plus the three identifying strings. Param
// order is preserved (insertion order) so the printer's "one parameter
// per line" canonical form is deterministic.
type Preset struct {
	FilterName string
	Name       string
	Category   string

	order  []string
	params map[string]Value
}

// New creates an empty preset for filterName.
func New(filterName, name, category string) *Preset {
	return &Preset{
		FilterName: filterName,
		Name:       name,
		Category:   category,
		params:     make(map[string]Value),
	}
}

// Set assigns key's value, appending key to the iteration order the
// first time it is set.
func (p *Preset) Set(key string, v Value) {
	if _, exists := p.params[key]; !exists {
		p.order = append(p.order, key)
	}
	p.params[key] = v
}

// Get looks up key.
func (p *Preset) Get(key string) (Value, bool) {
	v, ok := p.params[key]
	return v, ok
}

// Keys returns parameter names in insertion order.
func (p *Preset) Keys() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Equal implements spec.md §3's "two presets compare equal iff all
// parameters compare equal under type-aware equality" — FilterName must
// also match (a parameter set is meaningless without its owning filter),
// but Name/Category are display metadata and do not participate.
func (p *Preset) Equal(o *Preset) bool {
	if p.FilterName != o.FilterName {
		return false
	}
	if len(p.params) != len(o.params) {
		return false
	}
	for k, v := range p.params {
		ov, ok := o.params[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a deep-enough copy (point slices are copied) safe to
// mutate independently of p.
func (p *Preset) Clone() *Preset {
	out := New(p.FilterName, p.Name, p.Category)
	for _, k := range p.order {
		v := p.params[k]
		if v.Kind == KindPointList {
			v = PointList(v.Points)
		}
		out.Set(k, v)
	}
	return out
}

// Collection is spec.md §3's FilterPresetCollection: an ordered,
// category-grouped sequence of presets supporting lookup by
// (filter_kind, name).
type Collection struct {
	presets []*Preset
}

// NewCollection creates an empty collection.
func NewCollection() *Collection { return &Collection{} }

// Add appends p to the collection.
func (c *Collection) Add(p *Preset) { c.presets = append(c.presets, p) }

// Lookup finds a preset by (filterName, name); the first match wins.
func (c *Collection) Lookup(filterName, name string) (*Preset, bool) {
	for _, p := range c.presets {
		if p.FilterName == filterName && p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// All returns every preset in insertion order.
func (c *Collection) All() []*Preset {
	out := make([]*Preset, len(c.presets))
	copy(out, c.presets)
	return out
}

// ByCategory groups presets by Category, preserving each category's
// internal ordering.
func (c *Collection) ByCategory() map[string][]*Preset {
	out := make(map[string][]*Preset)
	for _, p := range c.presets {
		out[p.Category] = append(out[p.Category], p)
	}
	return out
}
