package receipt

import (
	"fmt"

	"chatrelay/internal/apperr"
)

// Status is the delivery state of one message for one recipient. The
// numeric order is the progression order.
type Status int

const (
	Sent Status = iota + 1
	Delivered
	Read
)

var names = map[Status]string{Sent: "sent", Delivered: "delivered", Read: "read"}

func (s Status) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func Parse(v string) (Status, error) {
	for s, n := range names {
		if n == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("delivery status %q: %w", v, apperr.ErrInvalid)
}

// Advance returns next if it moves past current, otherwise current and
// false. Duplicates and regressions never change the state.
func Advance(current, next Status) (Status, bool) {
	if next > current {
		return next, true
	}
	return current, false
}

// below lists the stored names of every status lower than s, the guard of
// the conditional write that moves a receipt to s.
func below(s Status) []string {
	var out []string
	for v := Sent; v < s; v++ {
		out = append(out, v.String())
	}
	return out
}
