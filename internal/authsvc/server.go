package authsvc

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/ame2e/mlsgov/internal/transport"
)

// NewServer builds the AS's fiber app: a single websocket upgrade endpoint,
// since every AS operation is just a request/response pair over the one
// persistent connection a client opens at startup.
func NewServer(svc *Service) *fiber.App {
	app := fiber.New()
	app.Get("/as", func(c fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return websocket.New(func(conn *websocket.Conn) {
			svc.Serve(transport.NewConn(conn.Conn))
		})(c)
	})
	return app
}
