package appointment

import "time"

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusAttended, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusAttended, StatusCancelled},
	StatusAttended:   nil,
	StatusCancelled:  nil,
	StatusNoShow:     nil,
}

const (
	OpConfirm        = "confirm"
	OpStartAttention = "start_attention"
	OpMarkAttended   = "mark_attended"
	OpCancel         = "cancel"
	OpMarkNoShow     = "mark_no_show"
)

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition is the result handed back to callers that want to notify on a state change.
type Transition struct {
	From        Status
	To          Status
	Operation   string
	Appointment Appointment
}

func (a *Appointment) transition(op string, to Status, now time.Time, apply func(now time.Time)) (Transition, error) {
	if !a.Status.CanTransitionTo(to) {
		return Transition{}, &StateTransitionError{Current: a.Status, Requested: to, Operation: op}
	}
	from := a.Status
	a.Status = to
	if apply != nil {
		apply(now)
	}
	a.UpdatedAt = now
	return Transition{From: from, To: to, Operation: op, Appointment: *a}, nil
}

func (a *Appointment) Confirm(now time.Time) (Transition, error) {
	return a.transition(OpConfirm, StatusConfirmed, now, func(now time.Time) {
		a.ConfirmedAt = &now
	})
}

func (a *Appointment) StartAttention(now time.Time) (Transition, error) {
	return a.transition(OpStartAttention, StatusInProgress, now, func(now time.Time) {
		a.AttentionStartedAt = &now
	})
}

// MarkAttended also backfills AttentionStartedAt for the CONFIRMED -> ATTENDED shortcut.
func (a *Appointment) MarkAttended(now time.Time) (Transition, error) {
	return a.transition(OpMarkAttended, StatusAttended, now, func(now time.Time) {
		if a.AttentionStartedAt == nil {
			a.AttentionStartedAt = &now
		}
		a.AttentionEndedAt = &now
	})
}

func (a *Appointment) Cancel(now time.Time, reason, actor string) (Transition, error) {
	return a.transition(OpCancel, StatusCancelled, now, func(now time.Time) {
		a.CancelledAt = &now
		a.CancellationReason = reason
		a.CancelledBy = actor
	})
}

func (a *Appointment) MarkNoShow(now time.Time) (Transition, error) {
	return a.transition(OpMarkNoShow, StatusNoShow, now, nil)
}
