package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"payment_recon/logger"
	"payment_recon/metrics"
	"payment_recon/models"
	"payment_recon/utils"
)

// LoginResult 登录或刷新成功后返回的令牌
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// AuthService 登录认证与会话管理
// 每个签发的令牌都落库为一条会话，删除会话即可使令牌失效
type AuthService struct {
	db      *gorm.DB
	tokens  *utils.TokenIssuer
	limiter utils.AttemptLimiter
	audit   AuditRecorder
	log     zerolog.Logger
	now     func() time.Time
}

// NewAuthService 创建认证服务
func NewAuthService(db *gorm.DB, tokens *utils.TokenIssuer, limiter utils.AttemptLimiter, audit AuditRecorder) *AuthService {
	return &AuthService{
		db:      db,
		tokens:  tokens,
		limiter: limiter,
		audit:   audit,
		log:     logger.WithComponent("auth"),
		now:     time.Now,
	}
}

// Login 邮箱密码登录
// 用户不存在或密码错误返回401，账号停用返回403，连续失败次数过多返回429
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, utils.BadRequest("邮箱和密码不能为空")
	}

	if locked, minutes := s.limiter.IsLocked(ctx, email); locked {
		s.recordLoginFailure(ctx, email, nil, "locked")
		return nil, utils.TooManyRequests(fmt.Sprintf("登录失败次数过多，请%d分钟后再试", minutes))
	}

	var user models.User
	err := s.db.WithContext(ctx).Preload("SaleTeam").Where("email = ?", email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.Internal(err)
	}
	if err != nil || !user.CheckPassword(password) {
		var actorID *uint
		if user.ID != 0 {
			actorID = &user.ID
		}
		return nil, s.failLogin(ctx, email, actorID, "invalid_credentials")
	}

	if !user.IsActive {
		s.recordLoginFailure(ctx, email, &user.ID, "inactive")
		return nil, utils.Forbidden("账号已停用")
	}

	s.limiter.ResetAttempts(ctx, email)

	result, err := s.issueSession(ctx, &user)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		s.log.Warn().Err(err).Uint("user_id", user.ID).Msg("更新最后登录时间失败")
	}
	user.LastLoginAt = &now

	// 顺便清理该用户已过期的会话
	if err := s.db.WithContext(ctx).Where("user_id = ? AND expired_at < ?", user.ID, now).Delete(&models.UserToken{}).Error; err != nil {
		s.log.Warn().Err(err).Uint("user_id", user.ID).Msg("清理过期会话失败")
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.audit.Record(ctx, AuditEntry{
		Action:     models.AuditLoginSuccess,
		EntityType: models.EntityUser,
		EntityID:   idString(user.ID),
		After:      map[string]interface{}{"email": email},
		ActorID:    &user.ID,
	})
	s.log.Info().Uint("user_id", user.ID).Str("email", email).Msg("用户登录成功")

	return result, nil
}

// failLogin 记录一次失败并决定返回401还是429
func (s *AuthService) failLogin(ctx context.Context, email string, actorID *uint, reason string) error {
	locked, minutes := s.limiter.RecordFailedLogin(ctx, email)
	s.recordLoginFailure(ctx, email, actorID, reason)
	if locked {
		return utils.TooManyRequests(fmt.Sprintf("登录失败次数过多，请%d分钟后再试", minutes))
	}
	return utils.Unauthorized(fmt.Sprintf("邮箱或密码错误，还可尝试%d次", s.limiter.GetRemainingAttempts(ctx, email)))
}

// recordLoginFailure 每次被拒绝的登录都写一条 LOGIN_FAILED，包括锁定期间的尝试
func (s *AuthService) recordLoginFailure(ctx context.Context, email string, actorID *uint, reason string) {
	result := "failed"
	if reason == "locked" {
		result = "locked"
	}
	metrics.LoginAttempts.WithLabelValues(result).Inc()
	s.audit.Record(ctx, AuditEntry{
		Action:     models.AuditLoginFailed,
		EntityType: models.EntityUser,
		EntityID:   email,
		After:      map[string]interface{}{"email": email, "reason": reason},
		ActorID:    actorID,
	})
	s.log.Warn().Str("email", email).Str("reason", reason).Msg("登录失败")
}

// issueSession 签发令牌并保存会话
func (s *AuthService) issueSession(ctx context.Context, user *models.User) (*LoginResult, error) {
	token, expiresAt, err := s.tokens.Generate(user.ID, user.Email)
	if err != nil {
		return nil, utils.Internal(fmt.Errorf("生成令牌失败: %w", err))
	}

	prov := ProvenanceFrom(ctx)
	session := models.UserToken{
		UserID:    user.ID,
		Token:     token,
		UserAgent: truncate(prov.UserAgent, 255),
		IP:        prov.IP,
		ExpiredAt: expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, utils.Internal(fmt.Errorf("保存会话失败: %w", err))
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Authenticate 校验令牌并返回当前用户，供认证中间件使用
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, utils.Unauthorized("无效的认证令牌")
	}

	var session models.UserToken
	err = s.db.WithContext(ctx).Where("token = ? AND expired_at > ?", token, s.now()).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.Unauthorized("认证令牌已失效")
		}
		return nil, utils.Internal(err)
	}
	if session.UserID != claims.UserID {
		return nil, utils.Unauthorized("无效的认证令牌")
	}

	var user models.User
	if err := s.db.WithContext(ctx).Preload("SaleTeam").First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.Unauthorized("用户不存在")
		}
		return nil, utils.Internal(err)
	}
	if !user.IsActive {
		return nil, utils.Unauthorized("账号已停用")
	}
	return &user, nil
}

// Logout 删除当前会话
func (s *AuthService) Logout(ctx context.Context, token string, actor *models.User) error {
	if err := s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.UserToken{}).Error; err != nil {
		return utils.Internal(fmt.Errorf("删除会话失败: %w", err))
	}

	s.audit.Record(ctx, AuditEntry{
		Action:     models.AuditLogout,
		EntityType: models.EntityUser,
		EntityID:   idString(actor.ID),
		ActorID:    &actor.ID,
	})
	return nil
}

// Refresh 用未过期的会话换取新令牌，旧会话随即删除
func (s *AuthService) Refresh(ctx context.Context, token string) (*LoginResult, error) {
	user, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	result, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.UserToken{}).Error; err != nil {
		s.log.Warn().Err(err).Uint("user_id", user.ID).Msg("删除旧会话失败")
	}
	return result, nil
}

// ListSessions 列出用户未过期的会话
func (s *AuthService) ListSessions(ctx context.Context, userID uint) ([]models.UserToken, error) {
	sessions := make([]models.UserToken, 0)
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expired_at > ?", userID, s.now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, utils.Internal(err)
	}
	return sessions, nil
}

// RevokeSession 删除用户自己的某个会话
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID uint) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", sessionID, userID).Delete(&models.UserToken{})
	if res.Error != nil {
		return utils.Internal(res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.NotFound("会话不存在")
	}
	return nil
}

// revokeAllSessions 删除用户的全部会话，重置密码与停用账号时调用
func revokeAllSessions(db *gorm.DB, userID uint) error {
	return db.Where("user_id = ?", userID).Delete(&models.UserToken{}).Error
}

// truncate 按字节截断，截断点退到字符起始位置，保证结果是合法UTF-8
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
