package message

type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

var transitions = map[Status][]Status{
	StatusSent:      {StatusDelivered, StatusRead, StatusFailed},
	StatusDelivered: {StatusRead, StatusFailed},
	StatusRead:      {},
	StatusFailed:    {},
}

// CanTransition reports whether moving from s to next is allowed. Read is
// terminal and never downgraded.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Precursors lists the statuses that may move to next.
func Precursors(next Status) []Status {
	var out []Status
	for from, targets := range transitions {
		for _, to := range targets {
			if to == next {
				out = append(out, from)
			}
		}
	}
	return out
}
