package bus

import "time"

// EventKind tags an inbound Event. Handlers are looked up by kind, never by
// the shape of the payload.
type EventKind int

const (
	EventInvite EventKind = iota + 1
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventInvite:
		return "invite"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// MsgTypeText is the Matrix msgtype of plain text bodies.
const MsgTypeText = "m.text"

// Event is a transport notification in transport-neutral form.
//
// For EventInvite, Target is the invited identity. For EventMessage, Sender,
// EventID, MsgType and Body describe the room message.
type Event struct {
	Kind      EventKind `json:"kind"`
	RoomID    string    `json:"room_id"`
	Target    string    `json:"target,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
	MsgType   string    `json:"msgtype,omitempty"`
	Body      string    `json:"body,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsText reports whether the event carries a plain-text message body.
func (e Event) IsText() bool {
	return e.Kind == EventMessage && e.MsgType == MsgTypeText
}
