// README: Booking handlers covering the request, handoff, and cancel flows.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridepool/internal/auth"
	"ridepool/internal/modules/ride"
	"ridepool/internal/types"
)

type BookingHandler struct {
	bookings *ride.BookingService
	rides    *ride.RideService
}

func NewBookingHandler(bookings *ride.BookingService, rides *ride.RideService) *BookingHandler {
	return &BookingHandler{bookings: bookings, rides: rides}
}

type createBookingReq struct {
	RideID         string      `json:"ride_id"`
	PassengerID    string      `json:"passenger_id"`
	SeatsBooked    int         `json:"seats_booked"`
	PickupPoint    types.Point `json:"pickup_point"`
	DropoffPoint   types.Point `json:"dropoff_point"`
	IdempotencyKey string      `json:"idempotency_key"`
}

func (h *BookingHandler) Create(c *gin.Context) {
	if !requireRole(c, auth.RolePassenger) {
		return
	}
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	// The booking is always opened as the authenticated passenger; a body
	// passenger_id is accepted only when it matches.
	if req.PassengerID != "" && types.ID(req.PassengerID) != callerID(c) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	b, err := h.bookings.Create(c.Request.Context(), ride.CreateCommand{
		RideID:         types.ID(req.RideID),
		PassengerID:    callerID(c),
		SeatsBooked:    req.SeatsBooked,
		PickupPoint:    req.PickupPoint,
		DropoffPoint:   req.DropoffPoint,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, newBookingView(b, true))
}

// Get returns a booking to either party. The passenger sees the handoff
// codes; the ride's driver sees everything else.
func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.bookings.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	uid := callerID(c)
	if b.PassengerID == uid {
		writeJSON(c, http.StatusOK, newBookingView(b, true))
		return
	}
	r, err := h.rides.Get(c.Request.Context(), b.RideID)
	if err == nil && r.DriverID == uid {
		writeJSON(c, http.StatusOK, newBookingView(b, false))
		return
	}
	writeError(c, http.StatusForbidden, "forbidden: not a party to this booking")
}

func (h *BookingHandler) ListMine(c *gin.Context) {
	if !requireRole(c, auth.RolePassenger) {
		return
	}
	bs, err := h.bookings.ListForPassenger(c.Request.Context(), callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"bookings": newBookingViews(bs, true)})
}

func (h *BookingHandler) Accept(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.bookings.Accept(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newBookingView(b, false))
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (h *BookingHandler) Reject(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonReq
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "driver_rejected"
	}
	b, err := h.bookings.Reject(c.Request.Context(), id, callerID(c), req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newBookingView(b, false))
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	if !requireRole(c, auth.RolePassenger) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonReq
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "passenger_cancelled"
	}
	b, err := h.bookings.Cancel(c.Request.Context(), id, callerID(c), req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newBookingView(b, true))
}

type codeReq struct {
	Code string `json:"code"`
}

func (h *BookingHandler) ConfirmPickup(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req codeReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		writeError(c, http.StatusBadRequest, "code is required")
		return
	}
	b, err := h.bookings.ConfirmPickup(c.Request.Context(), id, callerID(c), req.Code)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newBookingView(b, false))
}

func (h *BookingHandler) StartTransit(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.bookings.StartTransit(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newBookingView(b, false))
}

func (h *BookingHandler) BeginDropoff(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.bookings.BeginDropoff(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newBookingView(b, false))
}

func (h *BookingHandler) ConfirmDropoff(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req codeReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		writeError(c, http.StatusBadRequest, "code is required")
		return
	}
	b, err := h.bookings.ConfirmDropoff(c.Request.Context(), id, callerID(c), req.Code)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newBookingView(b, false))
}

// ReissueCode rotates the active handoff code for the passenger who lost it.
func (h *BookingHandler) ReissueCode(c *gin.Context) {
	if !requireRole(c, auth.RolePassenger) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.bookings.ReissueCode(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newBookingView(b, true))
}
