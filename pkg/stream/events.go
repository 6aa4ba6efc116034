package stream

// Event types published by the request handlers. The _events websocket
// relays them verbatim; the kafka mirror ships the same payloads.
const (
	EventRowCreated = "row.created"
	EventRowUpdated = "row.updated"
	EventRowDeleted = "row.deleted"
	EventRestored   = "restore.completed"
)

// RowChange is the payload of the row.* events.
type RowChange struct {
	Database string `json:"db"`
	Action   string `json:"action"`
	ID       int64  `json:"id"`
	Up       int64  `json:"up,omitempty"`
	Type     int64  `json:"t,omitempty"`
	Val      string `json:"val,omitempty"`
}

// NewRowEvent builds a row change event for one mutated row.
func NewRowEvent(eventType, db, action string, id, up, typ int64, val string) Event {
	return NewEvent(eventType, RowChange{
		Database: db,
		Action:   action,
		ID:       id,
		Up:       up,
		Type:     typ,
		Val:      val,
	})
}
