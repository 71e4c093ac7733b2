// README: Websocket upgrade handler feeding the notification hub.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ridepool/internal/http/middleware"
	"ridepool/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type WSHandler struct {
	hub *ws.Hub
	log *logrus.Logger
}

func NewWSHandler(hub *ws.Hub, log *logrus.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

// Connect upgrades the request and streams the caller's events until the
// connection drops. ReadPump blocks so the route handler owns the socket
// lifetime.
func (h *WSHandler) Connect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		return
	}
	client := ws.NewClient(h.hub, conn, middleware.CallerRole(c), middleware.CallerUID(c), h.log)
	h.hub.Add(client)
	go client.WritePump()
	client.ReadPump()
}
