package models

import "time"

type CheckInOutcome string

const (
	CheckInAccepted CheckInOutcome = "accepted"
	CheckInRejected CheckInOutcome = "rejected"
	CheckInNotFound CheckInOutcome = "not_found"
	// CheckInValid is the dry-run answer for a ticket that would be accepted.
	CheckInValid CheckInOutcome = "valid"
)

type RejectReason string

const (
	ReasonAlreadyUsed    RejectReason = "already_used"
	ReasonInvalidated    RejectReason = "invalidated"
	ReasonRefunded       RejectReason = "refunded"
	ReasonEventCancelled RejectReason = "event_cancelled"
	ReasonEventPostponed RejectReason = "event_postponed"
)

// CheckInResult is the typed answer to a scan. Rejections are results, not
// errors.
type CheckInResult struct {
	Outcome CheckInOutcome `json:"outcome"`
	Reason  RejectReason   `json:"reason,omitempty"`
	UsedAt  *time.Time     `json:"used_at,omitempty"`
	Ticket  *TicketView    `json:"ticket,omitempty"`
}

func Accepted(view TicketView) CheckInResult {
	return CheckInResult{Outcome: CheckInAccepted, Ticket: &view}
}

func Rejected(reason RejectReason, view TicketView) CheckInResult {
	res := CheckInResult{Outcome: CheckInRejected, Reason: reason, Ticket: &view}
	if reason == ReasonAlreadyUsed {
		res.UsedAt = view.RedeemedAt
	}
	return res
}

func NotFound() CheckInResult {
	return CheckInResult{Outcome: CheckInNotFound}
}

// RejectReasonFor maps a terminal ticket state to its rejection reason.
func RejectReasonFor(state TicketState) RejectReason {
	switch state {
	case TicketUsed:
		return ReasonAlreadyUsed
	case TicketRefunded:
		return ReasonRefunded
	default:
		return ReasonInvalidated
	}
}

// CheckInEvent is broadcast to live dashboards and Kafka on every accepted
// check-in.
type CheckInEvent struct {
	EventID        string    `json:"event_id"`
	Code           string    `json:"-"`
	TicketTypeName string    `json:"ticket_type"`
	HolderName     string    `json:"holder_name"`
	AgentID        string    `json:"agent_id"`
	CheckedInAt    time.Time `json:"checked_in_at"`
}
