package resource

// Typed is a view of a Table restricted to one tag and one Go type.
// It shares id space and lifetime with the underlying table.
type Typed[T any] struct {
	table *Table
	tag   string
}

// NewTyped binds a typed view to table under tag.
func NewTyped[T any](table *Table, tag string) *Typed[T] {
	return &Typed[T]{table: table, tag: tag}
}

// Tag returns the tag values are added with.
func (v *Typed[T]) Tag() string {
	return v.tag
}

// Insert adds value and returns its id.
func (v *Typed[T]) Insert(value T) ID {
	return v.table.Add(v.tag, value)
}

// Get retrieves a value if id is live, carries this view's tag and holds a T.
func (v *Typed[T]) Get(id ID) (T, bool) {
	var zero T
	if tag, ok := v.table.Tag(id); !ok || tag != v.tag {
		return zero, false
	}
	return Get[T](v.table, id)
}

// Remove transfers ownership of a value out of the table.
func (v *Typed[T]) Remove(id ID) (T, bool) {
	var zero T
	if tag, ok := v.table.Tag(id); !ok || tag != v.tag {
		return zero, false
	}
	return Remove[T](v.table, id)
}

// Close drops a value of this view.
func (v *Typed[T]) Close(id ID) bool {
	if tag, ok := v.table.Tag(id); !ok || tag != v.tag {
		return false
	}
	return v.table.Close(id)
}

// Len returns the number of live values with this view's tag.
func (v *Typed[T]) Len() int {
	n := 0
	for _, tag := range v.table.Entries() {
		if tag == v.tag {
			n++
		}
	}
	return n
}

// Each iterates live values of this view in id order.
func (v *Typed[T]) Each(fn func(ID, T) bool) {
	for _, id := range v.table.IDs() {
		val, ok := v.Get(id)
		if !ok {
			continue
		}
		if !fn(id, val) {
			return
		}
	}
}
