package ir

import "slices"

// Tag is a single name/value pair attached to a data item.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Tags is an ordered tag list. Names may repeat; lookups return the first match.
type Tags []Tag

// T builds Tags from alternating name/value arguments.
// A trailing name without a value is ignored.
func T(pairs ...string) Tags {
	tags := make(Tags, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		tags = append(tags, Tag{Name: pairs[i], Value: pairs[i+1]})
	}
	return tags
}

// Get returns the value of the first tag with the given name.
func (t Tags) Get(name string) (string, bool) {
	for _, tag := range t {
		if tag.Name == name {
			return tag.Value, true
		}
	}
	return "", false
}

// Value returns the first value for name, or "" when absent.
func (t Tags) Value(name string) string {
	v, _ := t.Get(name)
	return v
}

// Values returns every value for name in declaration order.
func (t Tags) Values(name string) []string {
	var values []string
	for _, tag := range t {
		if tag.Name == name {
			values = append(values, tag.Value)
		}
	}
	return values
}

// Has reports whether a tag with exactly this name and value exists.
func (t Tags) Has(name, value string) bool {
	for _, tag := range t {
		if tag.Name == name && tag.Value == value {
			return true
		}
	}
	return false
}

// Contains reports whether any tag has the given name.
func (t Tags) Contains(name string) bool {
	_, ok := t.Get(name)
	return ok
}

// Clone returns an independent copy.
func (t Tags) Clone() Tags {
	if t == nil {
		return nil
	}
	out := make(Tags, len(t))
	copy(out, t)
	return out
}

// Without returns a copy with every tag of the given names removed.
func (t Tags) Without(names ...string) Tags {
	out := make(Tags, 0, len(t))
	for _, tag := range t {
		if !slices.Contains(names, tag.Name) {
			out = append(out, tag)
		}
	}
	return out
}

// Append returns a copy with the pair appended.
func (t Tags) Append(name, value string) Tags {
	out := make(Tags, len(t), len(t)+1)
	copy(out, t)
	return append(out, Tag{Name: name, Value: value})
}

// WithDefaults merges defaults under t: every default whose name t does not
// carry is kept, names present in t keep t's values (all of them, in order).
// Defaults come first, followed by t's remaining tags.
func (t Tags) WithDefaults(defaults Tags) Tags {
	out := make(Tags, 0, len(t)+len(defaults))
	emitted := make(map[string]bool, len(defaults))
	for _, d := range defaults {
		if emitted[d.Name] {
			continue
		}
		emitted[d.Name] = true
		if t.Contains(d.Name) {
			for _, tag := range t {
				if tag.Name == d.Name {
					out = append(out, tag)
				}
			}
			continue
		}
		out = append(out, d)
	}
	for _, tag := range t {
		if !emitted[tag.Name] {
			out = append(out, tag)
		}
	}
	return out
}

// Map collapses tags into a map keeping the first value of each name.
func (t Tags) Map() map[string]string {
	m := make(map[string]string, len(t))
	for _, tag := range t {
		if _, ok := m[tag.Name]; !ok {
			m[tag.Name] = tag.Value
		}
	}
	return m
}
