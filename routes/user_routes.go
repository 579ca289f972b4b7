package routes

import (
	"github.com/gofiber/fiber/v2"

	"payment_recon/handlers"
	"payment_recon/middleware"
	"payment_recon/models"
)

// SetupUserRoutes 设置用户与销售组路由
// 用户管理仅管理员可用，销售组列表对所有登录用户开放
func SetupUserRoutes(api fiber.Router, h *handlers.Handler, auth fiber.Handler) {
	users := api.Group("/users", auth, middleware.RequireRole(models.RoleAdmin))
	users.Get("/", h.ListUsers)
	users.Post("/", h.CreateUser)
	users.Get("/:id", h.GetUser)
	users.Put("/:id", h.UpdateUser)
	users.Delete("/:id", h.DeactivateUser)
	users.Post("/:id/reset-password", h.ResetPassword)

	teams := api.Group("/teams", auth)
	teams.Get("/", h.ListTeams)
	teams.Post("/", middleware.RequireRole(models.RoleAdmin), h.CreateTeam)
}
