package models

// Entity is anything a paginated list can hold and patch by id.
type Entity interface {
	EntityID() ID
}

// Page is one page of a paginated REST collection. A nil Next marks the end of the
// collection; Next is an opaque absolute URL and is never parsed.
type Page[T any] struct {
	Count    int     `json:"count,omitempty"`
	Next     *string `json:"next"`
	Previous *string `json:"previous,omitempty"`
	Results  []T     `json:"results"`
}

// SinglePage wraps one item in a page with no next cursor.
func SinglePage[T any](item T) Page[T] {
	return Page[T]{Count: 1, Results: []T{item}}
}

// HasNext reports whether another page follows this one.
func (p Page[T]) HasNext() bool { return p.Next != nil && *p.Next != "" }

// Clone copies the results slice and cursors. Elements are copied by value.
func (p Page[T]) Clone() Page[T] {
	out := Page[T]{Count: p.Count}
	if p.Next != nil {
		next := *p.Next
		out.Next = &next
	}
	if p.Previous != nil {
		prev := *p.Previous
		out.Previous = &prev
	}
	if p.Results != nil {
		out.Results = make([]T, len(p.Results))
		copy(out.Results, p.Results)
	}
	return out
}
