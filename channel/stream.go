package channel

import (
	"sync"

	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/butil"
	"github.com/user/blepeer/seqnum"
	"github.com/user/blepeer/submsg"
)

// stream holds one stream-kind's (text or binary) independent send queue,
// message_id counter, and inbound reassembly state, per spec.md §3's "two
// independent streams" invariant.
type stream struct {
	kind ble.StreamKind

	mu         sync.Mutex
	outgoingID *seqnum.SequenceNumber
	queue      []*outboundMessage
	inFlight   *submsg.SubMessage
	ackTimer   *butil.Timer

	receiving map[string]*partial
	delivered *dedupeRing
}

// partial is one message's reassembly-in-progress state.
type partial struct {
	payload    []byte
	lastSubSeq *seqnum.SequenceNumber
}

func newStream(kind ble.StreamKind) *stream {
	return &stream{
		kind:       kind,
		outgoingID: newMessageIDCounter(),
		receiving:  make(map[string]*partial),
		delivered:  newDedupeRing(64),
	}
}

// dedupeRing is a bounded FIFO set of recently-delivered message_id
// strings, per spec.md §4.6's "ring-buffer bounded" note.
type dedupeRing struct {
	mu  sync.Mutex
	ids []string
	set map[string]bool
	cap int
}

func newDedupeRing(capacity int) *dedupeRing {
	return &dedupeRing{
		set: make(map[string]bool, capacity),
		cap: capacity,
	}
}

func (d *dedupeRing) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.set[id]
}

func (d *dedupeRing) Add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.set[id] {
		return
	}
	d.ids = append(d.ids, id)
	d.set[id] = true
	for len(d.ids) > d.cap {
		oldest := d.ids[0]
		d.ids = d.ids[1:]
		delete(d.set, oldest)
	}
}
