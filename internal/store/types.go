package store

// Notification is one alert row for a user. ID is globally unique and
// immutable; Read only ever transitions false to true.
type Notification struct {
	ID        string
	UserID    string
	Category  string // client, visit, transfer
	Title     string
	Message   string
	Data      map[string]any
	Read      bool
	CreatedAt int64 // unix millis
}

// Lead is a CRM lead row mirrored from the backing store.
type Lead struct {
	ID            string
	Name          string
	Phone         string
	Status        string
	ResponsibleID string
	Unit          string
	UpdatedAt     int64
}

// LeadHistory is one append-only audit record for a lead mutation.
type LeadHistory struct {
	ID        int64
	LeadID    string
	UserID    string
	UserName  string
	Action    string
	OldValue  string
	NewValue  string
	CreatedAt int64
}

// Message is a conversation message row; media messages carry a resolved
// URL once their transfer completes.
type Message struct {
	ID             int64
	MsgID          string
	ConversationID string
	MediaType      string // empty for text messages
	MediaURL       string
	Timestamp      int64
}
