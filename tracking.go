package framegraph

// access is the most recent declared use of a resource.
type access struct {
	node  *Node
	state State
}

// trackingContext holds the cross-node view of resource accesses while a
// frame is built. It belongs to one Graph and is passed to every
// NodeBuilder; it has no locking because construction is single-threaded.
type trackingContext struct {
	writable map[Handle]access
	readable map[Handle]access

	// retired lists released virtual resources in release order.
	retired    []Handle
	retiredSet map[Handle]struct{}
}

func newTrackingContext() *trackingContext {
	return &trackingContext{
		writable:   make(map[Handle]access),
		readable:   make(map[Handle]access),
		retiredSet: make(map[Handle]struct{}),
	}
}

// lookup returns the latest tracked access of h. If h is somehow in both
// maps the writable entry wins and the readable one is dropped.
func (tc *trackingContext) lookup(h Handle) (access, bool) {
	if a, ok := tc.writable[h]; ok {
		delete(tc.readable, h)
		return a, true
	}
	a, ok := tc.readable[h]
	return a, ok
}

// update records a new access. When the state is unchanged only the owning
// node moves; otherwise h moves to the map matching the access mode.
func (tc *trackingContext) update(h Handle, a access, write, changed bool) {
	if !changed {
		if _, ok := tc.writable[h]; ok {
			tc.writable[h] = a
			return
		}
		if _, ok := tc.readable[h]; ok {
			tc.readable[h] = a
			return
		}
	}
	if write {
		delete(tc.readable, h)
		tc.writable[h] = a
	} else {
		delete(tc.writable, h)
		tc.readable[h] = a
	}
}

// retire drops h from the working sets after release.
func (tc *trackingContext) retire(h Handle) {
	delete(tc.writable, h)
	delete(tc.readable, h)
	if _, ok := tc.retiredSet[h]; ok {
		return
	}
	tc.retiredSet[h] = struct{}{}
	tc.retired = append(tc.retired, h)
}

func (tc *trackingContext) isRetired(h Handle) bool {
	_, ok := tc.retiredSet[h]
	return ok
}
