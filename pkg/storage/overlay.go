package storage

// writeSet is an ordered buffer of puts and deletes.
// The last write to a key wins; iteration follows first-write order.
type writeSet struct {
	order   []string
	values  map[string][]byte
	deleted map[string]bool
}

func newWriteSet() *writeSet {
	return &writeSet{
		values:  make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (w *writeSet) touch(key string) {
	if _, ok := w.values[key]; ok {
		return
	}
	if w.deleted[key] {
		return
	}
	w.order = append(w.order, key)
}

func (w *writeSet) put(key, value []byte) {
	k := string(key)
	w.touch(k)
	delete(w.deleted, k)
	w.values[k] = append([]byte(nil), value...)
}

func (w *writeSet) delete(key []byte) {
	k := string(key)
	w.touch(k)
	delete(w.values, k)
	w.deleted[k] = true
}

// get reports (value, deleted, found)
func (w *writeSet) get(key []byte) ([]byte, bool, bool) {
	k := string(key)
	if w.deleted[k] {
		return nil, true, true
	}
	if v, ok := w.values[k]; ok {
		return append([]byte(nil), v...), false, true
	}
	return nil, false, false
}

func (w *writeSet) each(fn func(key string, value []byte, deleted bool)) {
	for _, k := range w.order {
		if w.deleted[k] {
			fn(k, nil, true)
			continue
		}
		fn(k, w.values[k], false)
	}
}

func (w *writeSet) len() int {
	return len(w.order)
}

// Ensure Overlay implements Handle interface
var _ Handle = (*Overlay)(nil)

// Overlay buffers the writes of a single event handler on top of a block Handle.
// Flush applies them to the parent; dropping the Overlay discards them.
type Overlay struct {
	parent Handle
	writes *writeSet
}

// NewOverlay creates an event-scoped write buffer over parent
func NewOverlay(parent Handle) *Overlay {
	return &Overlay{parent: parent, writes: newWriteSet()}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if value, deleted, ok := o.writes.get(key); ok {
		if deleted {
			return nil, ErrNotFound
		}
		return value, nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Put(key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	o.writes.put(key, value)
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	o.writes.delete(key)
	return nil
}

// Len returns the number of distinct keys written
func (o *Overlay) Len() int {
	return o.writes.len()
}

// Flush applies buffered writes to the parent in order
func (o *Overlay) Flush() error {
	var firstErr error
	o.writes.each(func(key string, value []byte, deleted bool) {
		if firstErr != nil {
			return
		}
		if deleted {
			firstErr = o.parent.Delete([]byte(key))
			return
		}
		firstErr = o.parent.Put([]byte(key), value)
	})
	if firstErr != nil {
		return firstErr
	}
	o.writes = newWriteSet()
	return nil
}
