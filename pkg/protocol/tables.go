package protocol

// Event represents a row in the events SQLite table.
type Event struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Source    string `json:"source"`
	ConnID    string `json:"conn_id"`
	Client    string `json:"client"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}
