package modes

// Client is the subset of a downstream consumer that the distributor
// needs: a place to push matching messages. Encoding to wire format is
// the caller's concern; the distributor only matches and fans out.
type Client interface {
	Deliver(m *Message)
}

// Handle identifies a registered client. Zero is never issued.
type Handle uint64

// FilterNotifier is called whenever the union of all registered clients'
// filters changes, so the caller can push an updated filter upstream to
// the receiver. Grounded on modes_filter.h's FilterDistributor, which
// calls back into SerialInput::handle_connection_status /
// write_settings via a similar hook.
type FilterNotifier func(union Filter)

type registration struct {
	handle  Handle
	client  Client
	filter  Filter
	removed bool
}

// FilterDistributor fans decoded messages out to registered clients that
// want them, and maintains the field-wise union of every registered
// filter, pushing it to an optional notifier whenever it changes.
//
// Unlike the original's std::map<handle,...>, a Go map gives no
// iteration order guarantee, so broadcast order (insertion order) is
// tracked explicitly via the order slice rather than relying on the
// registration map's iteration.
type FilterDistributor struct {
	next         Handle
	registered   map[Handle]*registration
	order        []Handle
	notifier     FilterNotifier
	union        Filter
	inBroadcast  bool
	sweepPending bool
}

// NewFilterDistributor returns an empty distributor.
func NewFilterDistributor() *FilterDistributor {
	return &FilterDistributor{registered: make(map[Handle]*registration)}
}

// SetFilterNotifier installs the callback invoked when the union filter
// changes. It is called once immediately with the current union.
func (d *FilterDistributor) SetFilterNotifier(notifier FilterNotifier) {
	d.notifier = notifier
	if d.notifier != nil {
		d.notifier(d.union)
	}
}

// AddClient registers client with the given initial filter and returns
// its handle.
func (d *FilterDistributor) AddClient(client Client, filter Filter) Handle {
	d.next++
	h := d.next
	d.registered[h] = &registration{handle: h, client: client, filter: filter}
	d.order = append(d.order, h)
	d.recomputeUnion()
	return h
}

// UpdateClientFilter changes the filter associated with handle h. A
// no-op update (identical filter) does not trigger a union recompute or
// notifier call.
func (d *FilterDistributor) UpdateClientFilter(h Handle, filter Filter) {
	r, ok := d.registered[h]
	if !ok || r.removed || r.filter.Equal(filter) {
		return
	}
	r.filter = filter
	d.recomputeUnion()
}

// RemoveClient unregisters handle h. If called from within Broadcast
// (e.g. a client removing itself after a failed write), the removal is
// deferred: the registration is marked removed and swept out once
// Broadcast finishes iterating, so concurrent iteration over order never
// observes a mutated slice mid-pass.
func (d *FilterDistributor) RemoveClient(h Handle) {
	r, ok := d.registered[h]
	if !ok || r.removed {
		return
	}
	r.removed = true
	if d.inBroadcast {
		d.sweepPending = true
		return
	}
	d.sweep()
	d.recomputeUnion()
}

func (d *FilterDistributor) sweep() {
	if !d.sweepPending && !d.hasRemoved() {
		return
	}
	kept := d.order[:0:0]
	for _, h := range d.order {
		r := d.registered[h]
		if r.removed {
			delete(d.registered, h)
			continue
		}
		kept = append(kept, h)
	}
	d.order = kept
	d.sweepPending = false
}

func (d *FilterDistributor) hasRemoved() bool {
	for _, h := range d.order {
		if d.registered[h].removed {
			return true
		}
	}
	return false
}

// Broadcast delivers m to every registered, non-removed client whose
// filter matches it, in insertion order. A client may call RemoveClient
// on its own handle during delivery (e.g. after a write error); that
// removal is applied safely once the pass completes.
func (d *FilterDistributor) Broadcast(m *Message) {
	d.inBroadcast = true
	for _, h := range d.order {
		r := d.registered[h]
		if r.removed {
			continue
		}
		if r.filter.Matches(m) {
			r.client.Deliver(m)
		}
	}
	d.inBroadcast = false
	if d.sweepPending {
		d.sweep()
		d.recomputeUnion()
	}
}

func (d *FilterDistributor) recomputeUnion() {
	var union Filter
	for _, h := range d.order {
		r := d.registered[h]
		if r.removed {
			continue
		}
		union = union.Combine(r.filter)
	}
	if union.Equal(d.union) {
		return
	}
	d.union = union
	if d.notifier != nil {
		d.notifier(d.union)
	}
}

// Union returns the current field-wise union of all registered filters.
func (d *FilterDistributor) Union() Filter {
	return d.union
}

// ClientCount returns the number of currently registered (non-removed) clients.
func (d *FilterDistributor) ClientCount() int {
	n := 0
	for _, h := range d.order {
		if !d.registered[h].removed {
			n++
		}
	}
	return n
}
