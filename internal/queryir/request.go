package queryir

import (
	"errors"
	"fmt"
)

// Request is the JSON form of a Filter, as accepted by the gateway.
//
// Absent fields add no constraint. A present but empty owners or ids list
// matches nothing, mirroring OwnerIn and IDIn.
type Request struct {
	IDs       []string     `json:"ids"`
	Owners    []string     `json:"owners"`
	Target    string       `json:"target,omitempty"`
	Tags      []TagRequest `json:"tags,omitempty"`
	MaxHeight *int64       `json:"max_height,omitempty"`
	Limit     int          `json:"limit,omitempty"`
}

// TagRequest is one required tag of a Request.
type TagRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Filter converts the request into a Filter.
func (r Request) Filter() Filter {
	var preds []Predicate
	if r.IDs != nil {
		preds = append(preds, IDIn{IDs: r.IDs})
	}
	if r.Owners != nil {
		preds = append(preds, OwnerIn{Owners: r.Owners})
	}
	if r.Target != "" {
		preds = append(preds, TargetEquals{Target: r.Target})
	}
	for _, t := range r.Tags {
		preds = append(preds, TagEquals{Name: t.Name, Value: t.Value})
	}
	if r.MaxHeight != nil {
		preds = append(preds, HeightAtMost{Height: *r.MaxHeight})
	}

	f := Filter{Limit: r.Limit}
	if len(preds) > 0 {
		f.Where = And{Predicates: preds}
	}
	return f
}

// NewRequest flattens a Filter into its JSON form. Filters that repeat an
// owner, id, target or height constraint have no Request form.
func NewRequest(f Filter) (Request, error) {
	r := Request{Limit: f.Limit}
	var add func(p Predicate) error
	add = func(p Predicate) error {
		switch p := p.(type) {
		case nil:
		case And:
			for _, sub := range p.Predicates {
				if err := add(sub); err != nil {
					return err
				}
			}
		case IDIn:
			if r.IDs != nil {
				return errors.New("queryir: repeated id constraint")
			}
			r.IDs = append([]string{}, p.IDs...)
		case OwnerIn:
			if r.Owners != nil {
				return errors.New("queryir: repeated owner constraint")
			}
			r.Owners = append([]string{}, p.Owners...)
		case TargetEquals:
			if r.Target != "" {
				return errors.New("queryir: repeated target constraint")
			}
			r.Target = p.Target
		case TagEquals:
			r.Tags = append(r.Tags, TagRequest{Name: p.Name, Value: p.Value})
		case HeightAtMost:
			if r.MaxHeight != nil {
				return errors.New("queryir: repeated height constraint")
			}
			h := p.Height
			r.MaxHeight = &h
		default:
			return fmt.Errorf("queryir: unsupported predicate %T", p)
		}
		return nil
	}
	if err := add(f.Where); err != nil {
		return Request{}, err
	}
	return r, nil
}
