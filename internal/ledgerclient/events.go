package ledgerclient

// EventKind tags the three event variants consumed from the contract
// (spec §4.2, §9 "dynamic-typed record shapes -> tagged variants").
type EventKind int

const (
	EventPin EventKind = iota
	EventPinned
	EventUnpin
)

// PinEvent is emitted when a publisher creates a pin offer. It is the
// only variant that carries the raw cid (spec §4.2).
type PinEvent struct {
	SlotID         uint64
	CID            string
	Filename       string
	Gateway        string
	OfferPrice     int64
	PinQty         uint32
	Publisher      string
	LedgerSequence uint32
}

// PinnedEvent is emitted when a pinner claims a slot. CIDHash is the
// hex-encoded SHA-256 of the cid; consumers needing the cid itself must
// look it up via SlotID (spec §4.2).
type PinnedEvent struct {
	SlotID         uint64
	CIDHash        string
	Pinner         string
	Amount         int64
	PinsRemaining  uint32
	LedgerSequence uint32
}

// UnpinEvent is emitted when a slot is withdrawn or expires.
type UnpinEvent struct {
	SlotID         uint64
	CIDHash        string
	LedgerSequence uint32
}

// Event is a tagged union over the three variants above. Exactly one of
// Pin/Pinned/Unpin is non-nil, selected by Kind.
type Event struct {
	Kind   EventKind
	Pin    *PinEvent
	Pinned *PinnedEvent
	Unpin  *UnpinEvent
}

// LedgerSequence returns the sequence number of the underlying event,
// regardless of variant, so callers can process a batch in order without
// a type switch.
func (e Event) LedgerSequence() uint32 {
	switch e.Kind {
	case EventPin:
		return e.Pin.LedgerSequence
	case EventPinned:
		return e.Pinned.LedgerSequence
	case EventUnpin:
		return e.Unpin.LedgerSequence
	default:
		return 0
	}
}
