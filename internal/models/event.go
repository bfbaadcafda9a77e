package models

// EventKind is the kind of change carried on a user's event channel.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// Event is a change to one of a user's notifications, in store commit order.
// Insert and update carry the full record; delete carries only the id and
// whether the deleted row was unread.
type Event struct {
	Kind         EventKind     `json:"kind"`
	UserID       string        `json:"userId"`
	Notification *Notification `json:"notification,omitempty"`
	ID           string        `json:"id,omitempty"`
	WasUnread    bool          `json:"wasUnread,omitempty"`
}

func InsertEvent(n Notification) Event {
	return Event{Kind: EventInsert, UserID: n.RecipientID, Notification: &n, ID: n.ID}
}

func UpdateEvent(n Notification) Event {
	return Event{Kind: EventUpdate, UserID: n.RecipientID, Notification: &n, ID: n.ID}
}

func DeleteEvent(userID, id string, wasUnread bool) Event {
	return Event{Kind: EventDelete, UserID: userID, ID: id, WasUnread: wasUnread}
}

// NotificationID returns the id the event refers to.
func (e Event) NotificationID() string {
	if e.Notification != nil {
		return e.Notification.ID
	}
	return e.ID
}
