package storage

// Overlay buffers writes on top of a Database. Reads observe buffered writes
// first. Nothing reaches the parent until Commit, so discarding an overlay
// drops every write made through it.
type Overlay struct {
	parent  Database
	pending map[string][]byte
	deleted map[string]struct{}
	order   []string
}

// NewOverlay starts an empty overlay on parent.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{
		parent:  parent,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, gone := o.deleted[k]; gone {
		return nil, ErrNotFound
	}
	if v, ok := o.pending[k]; ok {
		return append([]byte(nil), v...), nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	k := string(key)
	if _, gone := o.deleted[k]; gone {
		return false, nil
	}
	if _, ok := o.pending[k]; ok {
		return true, nil
	}
	return o.parent.Has(key)
}

func (o *Overlay) Put(key, value []byte) error {
	k := string(key)
	delete(o.deleted, k)
	if _, seen := o.pending[k]; !seen {
		o.order = append(o.order, k)
	}
	o.pending[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	if _, seen := o.pending[k]; seen {
		delete(o.pending, k)
	} else {
		o.order = append(o.order, k)
	}
	o.deleted[k] = struct{}{}
	return nil
}

// Dirty reports whether any write is buffered.
func (o *Overlay) Dirty() bool {
	return len(o.pending) > 0 || len(o.deleted) > 0
}

// Commit flushes buffered writes to the parent in a single batch.
func (o *Overlay) Commit() error {
	if !o.Dirty() {
		return nil
	}
	batch := o.parent.NewBatch()
	for _, k := range o.order {
		if _, gone := o.deleted[k]; gone {
			if err := batch.Delete([]byte(k)); err != nil {
				return err
			}
			continue
		}
		if v, ok := o.pending[k]; ok {
			if err := batch.Put([]byte(k), v); err != nil {
				return err
			}
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	o.Discard()
	return nil
}

// Discard drops all buffered writes.
func (o *Overlay) Discard() {
	o.pending = make(map[string][]byte)
	o.deleted = make(map[string]struct{})
	o.order = nil
}
