// Package middleware 提供HTTP中间件
package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"payment_recon/models"
	"payment_recon/services"
	"payment_recon/utils"
)

// 存放在 c.Locals 中的键
const (
	LocalUser      = "user"
	LocalToken     = "token"
	LocalRequestID = "request_id"
)

// HeaderRequestID 请求ID响应头
const HeaderRequestID = "X-Request-ID"

// Authenticator 根据令牌解析当前用户
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// RequestContext 为每个请求分配请求ID，并把来源信息放入 UserContext 供审计使用
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(HeaderRequestID)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		c.Locals(LocalRequestID, requestID)
		c.Set(HeaderRequestID, requestID)

		ctx := services.WithProvenance(c.UserContext(), services.Provenance{
			IP:        c.IP(),
			UserAgent: c.Get(fiber.HeaderUserAgent),
			RequestID: requestID,
		})
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// Auth 校验Bearer令牌，认证成功后把用户存入 c.Locals
// 令牌缺失、无效、会话已删除或用户已停用时返回401
func Auth(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := utils.BearerToken(c)
		if !ok {
			return utils.Unauthorized("未提供有效的认证令牌")
		}

		user, err := auth.Authenticate(c.UserContext(), token)
		if err != nil {
			return err
		}

		c.Locals(LocalUser, user)
		c.Locals(LocalToken, token)
		return c.Next()
	}
}

// RequireRole 限制只有指定角色可以访问
func RequireRole(roles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return utils.Unauthorized("未登录")
		}
		for _, role := range roles {
			if user.Role == role {
				return c.Next()
			}
		}
		return utils.Forbidden("当前角色无权执行该操作")
	}
}

// CurrentUser 返回认证中间件存入的用户，未认证时返回nil
func CurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(LocalUser).(*models.User)
	return user
}

// CurrentToken 返回当前请求的令牌
func CurrentToken(c *fiber.Ctx) string {
	token, _ := c.Locals(LocalToken).(string)
	return token
}
