// Package routes 注册HTTP路由
package routes

import (
	"github.com/gofiber/fiber/v2"

	"payment_recon/handlers"
	"payment_recon/middleware"
)

// SetupRoutes 设置所有API路由
// api 为 /api 路由组，限流等中间件由调用方挂载
func SetupRoutes(app *fiber.App, api fiber.Router, h *handlers.Handler) {
	app.Get("/health", h.Health)

	auth := middleware.Auth(h.Auth)

	SetupAuthRoutes(api, h, auth)
	SetupUserRoutes(api, h, auth)
	SetupPaymentRoutes(api, h, auth)
	SetupAuditRoutes(api, h, auth)
}
