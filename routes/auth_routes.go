package routes

import (
	"github.com/gofiber/fiber/v2"

	"payment_recon/handlers"
)

// SetupAuthRoutes 设置认证相关路由
// 登录与刷新不需要认证中间件，刷新由服务层自行校验令牌
func SetupAuthRoutes(api fiber.Router, h *handlers.Handler, auth fiber.Handler) {
	group := api.Group("/auth")

	group.Post("/login", h.Login)
	group.Post("/refresh", h.RefreshToken)

	group.Post("/logout", auth, h.Logout)
	group.Get("/me", auth, h.Me)

	// 多设备会话管理，只能操作自己的会话
	group.Get("/devices", auth, h.GetLoginDevices)
	group.Delete("/devices/:id", auth, h.LogoutDevice)
}
