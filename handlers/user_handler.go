package handlers

import (
	"github.com/gofiber/fiber/v2"

	"payment_recon/models"
	"payment_recon/services"
	"payment_recon/utils"
)

// ListUsers 分页查询用户
// GET /api/users?role=&sale_team_id=&is_active=&page=&page_size=
func (h *Handler) ListUsers(c *fiber.Ctx) error {
	var query models.UserQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.BadRequest("无效的查询参数")
	}

	page, err := h.Users.ListUsers(c.UserContext(), query, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// GetUser 获取用户
// GET /api/users/:id
func (h *Handler) GetUser(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user, err := h.Users.GetUser(c.UserContext(), id, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// CreateUser 创建用户
// POST /api/users
func (h *Handler) CreateUser(c *fiber.Ctx) error {
	var input services.CreateUserInput
	if err := bindJSON(c, &input); err != nil {
		return err
	}

	user, err := h.Users.CreateUser(c.UserContext(), input, actor(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

// UpdateUser 修改用户
// PUT /api/users/:id
func (h *Handler) UpdateUser(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var input services.UpdateUserInput
	if err := bindJSON(c, &input); err != nil {
		return err
	}

	user, err := h.Users.UpdateUser(c.UserContext(), id, input, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// ResetPassword 重置密码，临时密码只在本次响应中返回
// POST /api/users/:id/reset-password
func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	password, err := h.Users.ResetPassword(c.UserContext(), id, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message":            "密码已重置",
		"temporary_password": password,
	})
}

// DeactivateUser 停用用户
// DELETE /api/users/:id
func (h *Handler) DeactivateUser(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.Users.DeactivateUser(c.UserContext(), id, actor(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "用户已停用"})
}

// CreateTeamRequest 创建销售组请求
type CreateTeamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListTeams 销售组列表
// GET /api/teams
func (h *Handler) ListTeams(c *fiber.Ctx) error {
	teams, err := h.Users.ListTeams(c.UserContext(), actor(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": teams})
}

// CreateTeam 创建销售组
// POST /api/teams
func (h *Handler) CreateTeam(c *fiber.Ctx) error {
	var req CreateTeamRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	team, err := h.Users.CreateTeam(c.UserContext(), req.Name, req.Description, actor(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(team)
}
