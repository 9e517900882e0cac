// README: Shipment aggregate, docstat codes, and DOH line details.
package shipment

import (
	"time"

	"dispatch/internal/modules/carrier"
)

// DocStat is the 2-char shipment lifecycle code carried over from the
// source system.
type DocStat string

const (
	StatWaitingRound       DocStat = "01" // waiting to be grouped into a round
	StatWaitingVendor      DocStat = "02" // offered to one grade, awaiting response
	StatVendorConfirmed    DocStat = "03" // vendor accepted with a specific truck
	StatDispatcherAssigned DocStat = "04" // dispatcher finalized, terminal
	StatCanceled           DocStat = "06" // canceled by dispatcher, terminal
	StatBroadcast          DocStat = "BC" // open offer, first come first served
	StatRejectedAll        DocStat = "RJ" // every grade declined, terminal
	StatOnHold             DocStat = "HD" // parked for dispatcher attention
)

// Terminal reports whether no further transitions leave the state.
// RequestBooking re-opens 06 and RJ, so only 04 is hard-terminal; the
// distinction matters to list queries, not to the FSM guards.
func (d DocStat) Terminal() bool {
	return d == StatDispatcherAssigned
}

type Shipment struct {
	Shipid       string
	CustomerName *string
	Doctype      *string
	Shippoint    string
	Province     *int
	Route        *string
	Cartype      *string
	Vencode      *string
	Carlicense   *string
	Carnote      *string
	Dockno       *string
	Quantity     *int
	VolumeCBM    *float64
	Apmdate      *time.Time
	Cruser       *string
	Crdate       time.Time
	Chuser       *string
	Chdate       *time.Time

	Docstat              DocStat
	BookingRoundID       *int64
	IsOnHold             bool
	DocstatBeforeHold    *DocStat
	CurrentGradeToAssign *carrier.Grade
	ConfirmedByGrade     *carrier.Grade
	AssignedAt           *time.Time
	RejectedByVencodes   []string

	Details []Detail
}

// Detail is one delivery line (DOH row) under a shipment.
type Detail struct {
	Doid     string
	Shipid   string
	Dlvdate  time.Time
	Cusid    string
	Cusname  string
	Route    string
	Routedes *string
	Province string
	Volume   float64
}

// HasRejected reports whether a vendor already declined (or timed out on)
// this shipment in the current booking cycle.
func (s *Shipment) HasRejected(vencode string) bool {
	for _, v := range s.RejectedByVencodes {
		if v == vencode {
			return true
		}
	}
	return false
}

func (s *Shipment) addRejection(vencode string) {
	if vencode == "" || s.HasRejected(vencode) {
		return
	}
	s.RejectedByVencodes = append(s.RejectedByVencodes, vencode)
}
