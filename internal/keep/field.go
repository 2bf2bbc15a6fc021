package keep

// field is a mutable cell that invokes its owner's touch hook exactly once
// per assignment of a differing value. Assigning the current value is a
// no-op. Hydration from wire data writes through init and never signals.
type field[T comparable] struct {
	val   T
	touch func()
}

func (f *field[T]) get() T { return f.val }

func (f *field[T]) set(v T) {
	if v == f.val {
		return
	}
	f.val = v
	if f.touch != nil {
		f.touch()
	}
}

func (f *field[T]) init(v T) { f.val = v }
