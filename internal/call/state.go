package call

import (
	"errors"
	"fmt"
)

type Status string

const (
	Initiated Status = "initiated"
	Accepted  Status = "accepted"
	Rejected  Status = "rejected"
	Missed    Status = "missed"
	Ended     Status = "ended"
	Busy      Status = "busy"
	Failed    Status = "failed"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s != Initiated && s != Accepted
}

type ParticipantStatus string

const (
	Invited         ParticipantStatus = "invited"
	Joined          ParticipantStatus = "accepted"
	Declined        ParticipantStatus = "rejected"
	Left            ParticipantStatus = "left"
	ParticipantLost ParticipantStatus = "failed"
)

// Event drives both machines.
type Event string

const (
	EventAccept  Event = "accept"
	EventReject  Event = "reject"
	EventEnd     Event = "end"
	EventTimeout Event = "timeout"
	EventBusy    Event = "busy"
	EventFail    Event = "fail"
)

var ErrTransition = errors.New("invalid call transition")

var callTransitions = map[Status]map[Event]Status{
	Initiated: {
		EventAccept:  Accepted,
		EventReject:  Rejected,
		EventTimeout: Missed,
		EventEnd:     Ended,
		EventBusy:    Busy,
		EventFail:    Failed,
	},
	Accepted: {
		EventEnd:  Ended,
		EventFail: Failed,
	},
}

var participantTransitions = map[ParticipantStatus]map[Event]ParticipantStatus{
	Invited: {
		EventAccept: Joined,
		EventReject: Declined,
		EventEnd:    Left,
		EventFail:   ParticipantLost,
	},
	Joined: {
		EventEnd:  Left,
		EventFail: ParticipantLost,
	},
}

// Next is the call state machine: the status e leads to from s, or
// ErrTransition.
func Next(s Status, e Event) (Status, error) {
	if to, ok := callTransitions[s][e]; ok {
		return to, nil
	}
	return s, fmt.Errorf("%w: call %s on %s", ErrTransition, s, e)
}

// NextParticipant is the participant state machine.
func NextParticipant(s ParticipantStatus, e Event) (ParticipantStatus, error) {
	if to, ok := participantTransitions[s][e]; ok {
		return to, nil
	}
	return s, fmt.Errorf("%w: participant %s on %s", ErrTransition, s, e)
}
