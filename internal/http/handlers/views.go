// README: JSON projections of the domain models.
package handlers

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/round"
	"dispatch/internal/modules/shipment"
)

type detailView struct {
	Doid     string    `json:"doid"`
	Dlvdate  time.Time `json:"dlvdate"`
	Cusid    string    `json:"cusid"`
	Cusname  string    `json:"cusname"`
	Route    string    `json:"route"`
	Routedes *string   `json:"routedes,omitempty"`
	Province string    `json:"province"`
	Volume   float64   `json:"volumn"`
}

type shipmentView struct {
	Shipid               string       `json:"shipid"`
	CustomerName         *string      `json:"customer_name,omitempty"`
	Shippoint            string       `json:"shippoint"`
	Route                *string      `json:"route,omitempty"`
	Cartype              *string      `json:"cartype,omitempty"`
	Vencode              *string      `json:"vencode,omitempty"`
	Carlicense           *string      `json:"carlicense,omitempty"`
	Carnote              *string      `json:"carnote,omitempty"`
	Dockno               *string      `json:"dockno,omitempty"`
	Quantity             *int         `json:"quantity,omitempty"`
	VolumeCBM            *float64     `json:"volume_cbm,omitempty"`
	Apmdate              *time.Time   `json:"apmdate,omitempty"`
	Crdate               time.Time    `json:"crdate"`
	Docstat              string       `json:"docstat"`
	BookingRoundID       *int64       `json:"booking_round_id,omitempty"`
	IsOnHold             bool         `json:"is_on_hold"`
	CurrentGradeToAssign *string      `json:"current_grade_to_assign,omitempty"`
	ConfirmedByGrade     *string      `json:"confirmed_by_grade,omitempty"`
	AssignedAt           *time.Time   `json:"assigned_at,omitempty"`
	Details              []detailView `json:"details,omitempty"`
}

func gradeString(g *carrier.Grade) *string {
	if g == nil {
		return nil
	}
	s := string(*g)
	return &s
}

func toShipmentView(sh shipment.Shipment) shipmentView {
	return shipmentView{
		Shipid:               sh.Shipid,
		CustomerName:         sh.CustomerName,
		Shippoint:            sh.Shippoint,
		Route:                sh.Route,
		Cartype:              sh.Cartype,
		Vencode:              sh.Vencode,
		Carlicense:           sh.Carlicense,
		Carnote:              sh.Carnote,
		Dockno:               sh.Dockno,
		Quantity:             sh.Quantity,
		VolumeCBM:            sh.VolumeCBM,
		Apmdate:              sh.Apmdate,
		Crdate:               sh.Crdate,
		Docstat:              string(sh.Docstat),
		BookingRoundID:       sh.BookingRoundID,
		IsOnHold:             sh.IsOnHold,
		CurrentGradeToAssign: gradeString(sh.CurrentGradeToAssign),
		ConfirmedByGrade:     gradeString(sh.ConfirmedByGrade),
		AssignedAt:           sh.AssignedAt,
		Details: lo.Map(sh.Details, func(d shipment.Detail, _ int) detailView {
			return detailView{
				Doid:     d.Doid,
				Dlvdate:  d.Dlvdate,
				Cusid:    d.Cusid,
				Cusname:  d.Cusname,
				Route:    d.Route,
				Routedes: d.Routedes,
				Province: d.Province,
				Volume:   d.Volume,
			}
		}),
	}
}

func toShipmentViews(shipments []shipment.Shipment) []shipmentView {
	return lo.Map(shipments, func(sh shipment.Shipment, _ int) shipmentView {
		return toShipmentView(sh)
	})
}

type roundView struct {
	ID            int64          `json:"id"`
	RoundName     string         `json:"round_name"`
	RoundDate     string         `json:"round_date"`
	RoundTime     string         `json:"round_time"`
	WarehouseCode string         `json:"warehouse_code"`
	Volume        *float64       `json:"volume,omitempty"`
	Status        string         `json:"status"`
	Shipments     []shipmentView `json:"shipments"`
}

func toRoundView(r round.Round) roundView {
	return roundView{
		ID:            r.ID,
		RoundName:     r.RoundName,
		RoundDate:     r.RoundDate.String(),
		RoundTime:     r.RoundTime,
		WarehouseCode: r.WarehouseCode,
		Volume:        r.Volume,
		Status:        string(r.Status),
		Shipments:     toShipmentViews(r.Shipments),
	}
}

func toRoundViews(rounds []round.Round) []roundView {
	return lo.Map(rounds, func(r round.Round, _ int) roundView { return toRoundView(r) })
}

type carView struct {
	Carlicense        string  `json:"carlicense"`
	Cartype           string  `json:"cartype"`
	Cartypedes        string  `json:"cartypedes"`
	Remark            *string `json:"remark,omitempty"`
	Active            bool    `json:"active"`
	WillBeAvailableAt *string `json:"will_be_available_at,omitempty"`
}

type vendorView struct {
	Vencode  string    `json:"vencode"`
	Venname  string    `json:"venname"`
	Grade    string    `json:"grade"`
	Score    *float64  `json:"score,omitempty"`
	Active   bool      `json:"active"`
	CarTypes []string  `json:"car_types"`
	Cars     []carView `json:"cars"`
}

func toVendorView(cap carrier.Capacity) vendorView {
	types := lo.Keys(cap.CarTypes)
	sort.Strings(types)
	return vendorView{
		Vencode:  cap.Vendor.Vencode,
		Venname:  cap.Vendor.Venname,
		Grade:    string(cap.Vendor.Grade),
		Score:    cap.Vendor.Score,
		Active:   cap.Vendor.Active,
		CarTypes: types,
		Cars: lo.Map(cap.Cars, func(c carrier.Car, _ int) carView {
			var avail *string
			if c.WillBeAvailableAt != nil {
				s := c.WillBeAvailableAt.String()
				avail = &s
			}
			return carView{
				Carlicense:        c.Carlicense,
				Cartype:           c.Cartype,
				Cartypedes:        c.Cartypedes,
				Remark:            c.Remark,
				Active:            c.Active,
				WillBeAvailableAt: avail,
			}
		}),
	}
}
