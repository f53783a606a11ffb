package model

// Property is a reusable accessor over one per-spot field, keyed by spot
// name. Read snapshots the field for every spot; Write applies updates only
// for names present in both the incoming map and the current spot sequence
// (unknown names are ignored), clamps each value, and fires the post-write
// hook once when anything changed.
type Property[V any] struct {
	Get   func(*Spot) V
	Set   func(*Spot, V)
	Clamp func(V) V  // optional
	After func()     // optional post-modification hook
}

// Read returns a name-to-value snapshot for the given spots.
func (p Property[V]) Read(spots []*Spot) map[string]V {
	out := make(map[string]V, len(spots))
	for _, s := range spots {
		out[s.Name] = p.Get(s)
	}
	return out
}

// Write applies values to matching spots and returns the applied count.
func (p Property[V]) Write(d *Dataset, values map[string]V) int {
	if d == nil {
		return 0
	}
	applied := 0
	for name, v := range values {
		s := d.SpotByName(name)
		if s == nil {
			continue
		}
		if p.Clamp != nil {
			v = p.Clamp(v)
		}
		p.Set(s, v)
		applied++
	}
	if applied > 0 && p.After != nil {
		p.After()
	}
	return applied
}

// ClampUnit clamps v to [0, 1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampNonNegative clamps v to [0, +inf).
func ClampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
