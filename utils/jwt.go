package utils

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
)

// ResolveJWTSecret 确定JWT签名密钥
// 生产环境必须显式配置；其他环境未配置时生成随机密钥（重启后已签发的令牌全部失效）
func ResolveJWTSecret(secret, env string) ([]byte, error) {
	if secret == "" {
		if env == "production" {
			return nil, errors.New("在生产环境中必须设置JWT_SECRET环境变量")
		}

		log.Warn().Msg("JWT_SECRET环境变量未设置，将使用随机生成的密钥（仅用于开发环境）")

		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return nil, err
		}
		secret = base64.StdEncoding.EncodeToString(randomKey)
	}

	if len(secret) < 16 {
		log.Warn().Msg("JWT密钥长度不足，建议使用至少32字符的密钥")
	}

	return []byte(secret), nil
}

// UserClaims 定义JWT令牌的声明结构
type UserClaims struct {
	UserID               uint   `json:"user_id"` // 用户ID
	Email                string `json:"email"`   // 邮箱，仅用于日志
	jwt.RegisteredClaims        // 嵌入标准JWT声明
}

// TokenIssuer 签发与校验JWT
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer 创建令牌签发器
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// TTL 令牌有效期
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Generate 为用户签发令牌，返回令牌字符串与过期时间
func (t *TokenIssuer) Generate(userID uint, email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(t.ttl)

	claims := UserClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			// 同一秒内多次登录也要得到不同的令牌
			ID: GenerateRandomCode(16),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// Parse 解析并验证JWT令牌
func (t *TokenIssuer) Parse(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("无效的签名方法")
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("无效的令牌")
}

// BearerToken 从Authorization头中提取Bearer令牌
func BearerToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len("Bearer "):])
	return token, token != ""
}
