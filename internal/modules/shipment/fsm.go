// README: Pure shipment state machine: every docstat transition and its guard.
package shipment

import (
	"errors"
	"fmt"
	"time"

	"dispatch/internal/modules/carrier"
)

// Transition guard failures. Handlers map these to HTTP 409/400; the
// timeout worker treats them as "already moved on" and skips the row.
var (
	ErrStateConflict = errors.New("shipment is not in a state that allows this action")
	ErrOnHold        = errors.New("shipment is on hold")
	ErrInRound       = errors.New("shipment is already assigned to a round")
	ErrNotOnHold     = errors.New("shipment is not on hold")
	ErrPastApmdate   = errors.New("appointment time already passed")
)

func stateConflict(s *Shipment, action string) error {
	return fmt.Errorf("%w: %s in docstat %s", ErrStateConflict, action, s.Docstat)
}

// ApplyRequestBooking re-opens a shipment and offers it to grade A.
// Allowed from 01, 06 and RJ; the rejection set from the previous cycle is
// cleared.
func ApplyRequestBooking(s *Shipment, now time.Time) error {
	if s.IsOnHold {
		return ErrOnHold
	}
	switch s.Docstat {
	case StatWaitingRound, StatCanceled, StatRejectedAll:
	default:
		return stateConflict(s, "request booking")
	}
	first := carrier.GradeOrder[0]
	s.Docstat = StatWaitingVendor
	s.CurrentGradeToAssign = &first
	s.AssignedAt = &now
	s.Vencode = nil
	s.Carlicense = nil
	s.ConfirmedByGrade = nil
	s.RejectedByVencodes = nil
	return nil
}

// ApplyAllocatorAssign offers a shipment in a round to the vendor the
// allocator picked.
func ApplyAllocatorAssign(s *Shipment, vencode string, grade carrier.Grade, now time.Time) error {
	if s.Docstat != StatWaitingRound || s.BookingRoundID == nil {
		return stateConflict(s, "allocator assign")
	}
	s.Docstat = StatWaitingVendor
	s.Vencode = &vencode
	s.CurrentGradeToAssign = &grade
	s.AssignedAt = &now
	return nil
}

// ApplyVendorConfirm accepts the shipment for a vendor holding a reserved
// car. Valid when the shipment is offered to the vendor's grade, or open
// for broadcast and the vendor has not previously rejected it.
func ApplyVendorConfirm(s *Shipment, vencode string, grade carrier.Grade, carlicense string, carnote *string) error {
	switch {
	case s.Docstat == StatWaitingVendor &&
		s.CurrentGradeToAssign != nil && *s.CurrentGradeToAssign == grade:
	case s.Docstat == StatBroadcast && !s.HasRejected(vencode):
	default:
		return stateConflict(s, "vendor confirm")
	}
	s.Docstat = StatVendorConfirmed
	s.Vencode = &vencode
	s.Carlicense = &carlicense
	s.Carnote = carnote
	s.ConfirmedByGrade = &grade
	s.CurrentGradeToAssign = nil
	s.AssignedAt = nil
	return nil
}

// ApplyVendorReject records an active decline and opens the shipment to the
// broadcast pool. The rejecting vendor no longer sees it.
func ApplyVendorReject(s *Shipment, vencode string, grade carrier.Grade, now time.Time) error {
	if s.Docstat != StatWaitingVendor ||
		s.CurrentGradeToAssign == nil || *s.CurrentGradeToAssign != grade {
		return stateConflict(s, "vendor reject")
	}
	s.addRejection(vencode)
	s.Docstat = StatBroadcast
	s.CurrentGradeToAssign = nil
	s.AssignedAt = &now
	return nil
}

// ApplyWaitingTimeout expires an unanswered grade offer. blameVencode is
// the vendor charged with the silence (any vendor of the timed-out grade;
// the caller picks deterministically). Elapsed-time checking is the
// caller's job; the guard here only re-checks the state.
func ApplyWaitingTimeout(s *Shipment, blameVencode string, now time.Time) error {
	if s.Docstat != StatWaitingVendor {
		return stateConflict(s, "waiting timeout")
	}
	s.addRejection(blameVencode)
	s.Docstat = StatBroadcast
	s.CurrentGradeToAssign = nil
	s.AssignedAt = &now
	return nil
}

// ApplyAllocatorHold parks a round shipment no vendor could take, either
// because nobody serves its car type or every eligible grade hit quota.
func ApplyAllocatorHold(s *Shipment) error {
	if s.Docstat != StatWaitingRound {
		return stateConflict(s, "allocator hold")
	}
	s.Docstat = StatOnHold
	s.CurrentGradeToAssign = nil
	s.AssignedAt = nil
	return nil
}

// ApplyBroadcastTimeout parks an unclaimed broadcast for dispatcher
// attention.
func ApplyBroadcastTimeout(s *Shipment) error {
	if s.Docstat != StatBroadcast {
		return stateConflict(s, "broadcast timeout")
	}
	s.Docstat = StatOnHold
	s.CurrentGradeToAssign = nil
	s.AssignedAt = nil
	return nil
}

// ApplyHold parks a shipment that is not yet in a round, remembering its
// state for ApplyUnhold.
func ApplyHold(s *Shipment) error {
	if s.IsOnHold {
		return ErrOnHold
	}
	if s.BookingRoundID != nil {
		return ErrInRound
	}
	before := s.Docstat
	s.DocstatBeforeHold = &before
	s.Docstat = StatOnHold
	s.IsOnHold = true
	return nil
}

// ApplyUnhold restores the pre-hold state.
func ApplyUnhold(s *Shipment) error {
	if !s.IsOnHold {
		return ErrNotOnHold
	}
	if s.DocstatBeforeHold != nil {
		s.Docstat = *s.DocstatBeforeHold
	} else {
		s.Docstat = StatWaitingRound
	}
	s.DocstatBeforeHold = nil
	s.IsOnHold = false
	return nil
}

// ApplyDispatcherConfirm finalizes a vendor-confirmed shipment. The caller
// commits the car assignment in the same transaction.
func ApplyDispatcherConfirm(s *Shipment) error {
	if s.Docstat != StatVendorConfirmed {
		return stateConflict(s, "dispatcher confirm")
	}
	s.Docstat = StatDispatcherAssigned
	return nil
}

// ApplyCancel voids a confirmed or assigned shipment before its
// appointment time. The car's availability date is deliberately left
// untouched.
func ApplyCancel(s *Shipment, now time.Time) error {
	switch s.Docstat {
	case StatVendorConfirmed, StatDispatcherAssigned:
	default:
		return stateConflict(s, "cancel")
	}
	if s.Apmdate != nil && !now.Before(*s.Apmdate) {
		return ErrPastApmdate
	}
	s.Docstat = StatCanceled
	s.Vencode = nil
	s.Carlicense = nil
	s.ConfirmedByGrade = nil
	return nil
}

// ApplyManualAssign lets a dispatcher hand a stuck shipment (rejected by
// all, or never allocated) directly to a chosen vendor.
func ApplyManualAssign(s *Shipment, vencode string, grade carrier.Grade, now time.Time) error {
	switch s.Docstat {
	case StatRejectedAll, StatWaitingRound:
	default:
		return stateConflict(s, "manual assign")
	}
	s.Docstat = StatWaitingVendor
	s.Vencode = &vencode
	s.CurrentGradeToAssign = &grade
	s.AssignedAt = &now
	return nil
}

// EnterRound is the round-side transition: a free, un-held shipment joins a
// booking round and waits for allocation. Re-entry into 01 starts a fresh
// booking cycle, so the rejection set resets.
func EnterRound(s *Shipment, roundID int64) error {
	if s.IsOnHold {
		return ErrOnHold
	}
	if s.BookingRoundID != nil {
		return ErrInRound
	}
	s.BookingRoundID = &roundID
	s.Docstat = StatWaitingRound
	s.RejectedByVencodes = nil
	return nil
}
