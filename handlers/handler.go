// Package handlers 实现HTTP接口
// 处理函数只负责解析参数与组装响应，业务规则全部在 services 包中
package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"payment_recon/middleware"
	"payment_recon/models"
	"payment_recon/services"
	"payment_recon/utils"
)

// Handler 持有全部业务服务
type Handler struct {
	DB     *gorm.DB
	Auth   *services.AuthService
	Users  *services.UserService
	Engine *services.PaymentEngine
	Audit  *services.AuditService
	Import *services.ImportService
	Export *services.ExportService
}

// Health 健康检查，数据库不可用时返回503
func (h *Handler) Health(c *fiber.Ctx) error {
	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.UserContext())
	}
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "unavailable",
			"database": "down",
		})
	}
	return c.JSON(fiber.Map{
		"status":   "ok",
		"database": "up",
		"time":     time.Now().UTC(),
	})
}

// paramID 读取路径中的数字ID
func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, utils.BadRequest("无效的ID")
	}
	return uint(id), nil
}

// bindJSON 解析请求体
func bindJSON(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return utils.BadRequest("请求参数格式错误")
	}
	return nil
}

// actor 当前登录用户
func actor(c *fiber.Ctx) *models.User {
	return middleware.CurrentUser(c)
}

// dateRange 解析起止日期，只给日期时结束日期包含当天
func dateRange(start, end string) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if start != "" {
		t, err := services.ParseDate(start)
		if err != nil {
			return nil, nil, utils.BadRequest("开始日期格式错误")
		}
		from = &t
	}
	if end != "" {
		t, err := services.ParseDate(end)
		if err != nil {
			return nil, nil, utils.BadRequest("结束日期格式错误")
		}
		if len(end) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		to = &t
	}
	return from, to, nil
}
