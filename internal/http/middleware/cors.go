package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORS allows browser calls from the configured client origins. An empty list allows any origin.
func CORS(allowedClients []string) fiber.Handler {
	origins := "*"
	if len(allowedClients) > 0 {
		origins = strings.Join(allowedClients, ",")
	}
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  strings.Join([]string{fiber.MethodGet, fiber.MethodPost, fiber.MethodHead, fiber.MethodOptions}, ","),
		AllowHeaders:  "Origin, Content-Type, Accept, " + RequestIDHeader,
		ExposeHeaders: RequestIDHeader,
	})
}
