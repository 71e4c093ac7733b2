// README: Bridges lifecycle events onto per-user websocket delivery.
package ws

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"ridepool/internal/auth"
	"ridepool/internal/events"
)

type Gateway struct {
	hub *Hub
	log *logrus.Logger
}

func NewGateway(hub *Hub, log *logrus.Logger) *Gateway {
	return &Gateway{hub: hub, log: log}
}

// HandleEvent routes one event to the users it names. Registered on the bus
// with SubscribeAll.
func (g *Gateway) HandleEvent(e events.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		g.log.WithError(err).WithField("kind", e.Kind).Error("encode event for delivery")
		return
	}
	if e.PassengerID != "" {
		g.hub.SendToUser(auth.RolePassenger, string(e.PassengerID), msg)
	}
	if e.DriverID != "" {
		g.hub.SendToUser(auth.RoleDriver, string(e.DriverID), msg)
	}
}
