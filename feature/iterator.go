package feature

// Iterator is a finite, forward-only, non-restartable feature stream.
//
// Usage:
//
//	for it.Next() {
//	    f := it.Feature()
//	}
//	if err := it.Err(); err != nil { ... }
//	it.Close()
//
// Close must always be called and is idempotent.
type Iterator interface {
	// Next advances to the next feature. It returns false at the end of the
	// stream or on error.
	Next() bool
	// Feature returns the current feature. Callers must treat it as read-only.
	Feature() *Feature
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases the resources held by the iterator.
	Close() error
}

// SliceIterator iterates over an in-memory slice.
type SliceIterator struct {
	features []*Feature
	pos      int
	cur      *Feature
	closed   bool
}

// NewSliceIterator returns an iterator over fs.
func NewSliceIterator(fs []*Feature) *SliceIterator {
	return &SliceIterator{features: fs}
}

// Next implements Iterator.
func (it *SliceIterator) Next() bool {
	if it.closed || it.pos >= len(it.features) {
		it.cur = nil
		return false
	}
	it.cur = it.features[it.pos]
	it.pos++
	return true
}

// Feature implements Iterator.
func (it *SliceIterator) Feature() *Feature { return it.cur }

// Err implements Iterator.
func (it *SliceIterator) Err() error { return nil }

// Close implements Iterator.
func (it *SliceIterator) Close() error {
	it.closed = true
	it.cur = nil
	return nil
}

// Empty returns an iterator with no features.
func Empty() Iterator {
	return NewSliceIterator(nil)
}

// Collect drains it and closes it.
func Collect(it Iterator) ([]*Feature, error) {
	var out []*Feature
	for it.Next() {
		out = append(out, it.Feature())
	}
	err := it.Err()
	if cerr := it.Close(); err == nil {
		err = cerr
	}
	return out, err
}

// FuncIterator adapts a pull function to Iterator.
//
// next returns the next feature, or (nil, nil) at the end of the stream.
// closeFn may be nil.
type FuncIterator struct {
	next  func() (*Feature, error)
	close func() error
	cur   *Feature
	err   error
	done  bool
}

// NewFuncIterator returns an iterator driven by next.
func NewFuncIterator(next func() (*Feature, error), closeFn func() error) *FuncIterator {
	return &FuncIterator{next: next, close: closeFn}
}

// Next implements Iterator.
func (it *FuncIterator) Next() bool {
	if it.done {
		return false
	}
	f, err := it.next()
	if err != nil {
		it.err = err
		it.done = true
		it.cur = nil
		return false
	}
	if f == nil {
		it.done = true
		it.cur = nil
		return false
	}
	it.cur = f
	return true
}

// Feature implements Iterator.
func (it *FuncIterator) Feature() *Feature { return it.cur }

// Err implements Iterator.
func (it *FuncIterator) Err() error { return it.err }

// Close implements Iterator.
func (it *FuncIterator) Close() error {
	it.done = true
	it.cur = nil
	if it.close == nil {
		return nil
	}
	c := it.close
	it.close = nil
	return c()
}
