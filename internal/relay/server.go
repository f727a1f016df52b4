package relay

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/ame2e/mlsgov/internal/transport"
)

// NewServer builds the Delivery Service's fiber app: a single websocket
// upgrade endpoint handed off to the Hub for the lifetime of the
// connection.
func NewServer(hub *Hub) *fiber.App {
	app := fiber.New()
	app.Get("/ds", func(c fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return websocket.New(func(conn *websocket.Conn) {
			hub.Serve(transport.NewConn(conn.Conn))
		})(c)
	})
	return app
}
