package bus

// Envelope is the payload published on the shared bus for one chat message.
// Sender, when present, keeps a message from echoing back to its author; an
// envelope without it is delivered to every member.
type Envelope struct {
	Sender  *int64 `json:"sender"`
	Message string `json:"message"`
}
