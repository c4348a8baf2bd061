package models

// MessageStatus moves strictly forward: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses; unknown values rank below sent.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

func (s MessageStatus) Valid() bool {
	return s.Rank() > 0
}

// Advance returns the later of s and next. A status never regresses and an
// unknown next value leaves s unchanged.
func (s MessageStatus) Advance(next MessageStatus) MessageStatus {
	if next.Rank() > s.Rank() {
		return next
	}
	return s
}
