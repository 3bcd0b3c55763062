package domain

// User is the per-sender record kept in the document store. Store-internal
// keys are never part of this shape.
type User struct {
	PhoneNumber   string  `json:"phoneNumber"`
	CreatedAt     string  `json:"createdAt"`
	MessageCount  int     `json:"messageCount"`
	LastMessageAt *string `json:"lastMessageAt"`
}
