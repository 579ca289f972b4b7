package handlers

import (
	"github.com/gofiber/fiber/v2"

	"payment_recon/middleware"
	"payment_recon/utils"
)

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login 邮箱密码登录
// POST /api/auth/login
func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	result, err := h.Auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message":    "登录成功",
		"token":      result.Token,
		"expires_at": result.ExpiresAt.Unix(),
		"user":       result.User,
	})
}

// Logout 使当前令牌失效
// POST /api/auth/logout
func (h *Handler) Logout(c *fiber.Ctx) error {
	if err := h.Auth.Logout(c.UserContext(), middleware.CurrentToken(c), actor(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "登出成功"})
}

// RefreshToken 用当前有效令牌换取新令牌，旧令牌随即失效
// POST /api/auth/refresh
func (h *Handler) RefreshToken(c *fiber.Ctx) error {
	token, ok := utils.BearerToken(c)
	if !ok {
		return utils.Unauthorized("未提供有效的认证令牌")
	}

	result, err := h.Auth.Refresh(c.UserContext(), token)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message":    "刷新令牌成功",
		"token":      result.Token,
		"expires_at": result.ExpiresAt.Unix(),
	})
}

// Me 当前登录用户
// GET /api/auth/me
func (h *Handler) Me(c *fiber.Ctx) error {
	return c.JSON(actor(c))
}

// GetLoginDevices 当前用户的登录设备
// GET /api/auth/devices
func (h *Handler) GetLoginDevices(c *fiber.Ctx) error {
	sessions, err := h.Auth.ListSessions(c.UserContext(), actor(c).ID)
	if err != nil {
		return err
	}

	current := middleware.CurrentToken(c)
	devices := make([]fiber.Map, 0, len(sessions))
	for _, s := range sessions {
		devices = append(devices, fiber.Map{
			"id":         s.ID,
			"user_agent": s.UserAgent,
			"ip":         s.IP,
			"created_at": s.CreatedAt,
			"expired_at": s.ExpiredAt,
			"current":    s.Token == current,
		})
	}
	return c.JSON(fiber.Map{"devices": devices})
}

// LogoutDevice 登出自己的某个设备
// DELETE /api/auth/devices/:id
func (h *Handler) LogoutDevice(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.Auth.RevokeSession(c.UserContext(), actor(c).ID, id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "设备已登出"})
}
