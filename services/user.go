package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"payment_recon/database"
	"payment_recon/logger"
	"payment_recon/models"
	"payment_recon/utils"
)

const minPasswordLength = 8

// CreateUserInput 创建用户参数
type CreateUserInput struct {
	Email      string      `json:"email"`
	Password   string      `json:"password"`
	FullName   string      `json:"full_name"`
	Role       models.Role `json:"role"`
	SaleTeamID *uint       `json:"sale_team_id"`
}

// UpdateUserInput 修改用户参数，只修改非空字段
// SaleTeamID 为0表示移出销售组
type UpdateUserInput struct {
	FullName   *string      `json:"full_name"`
	Role       *models.Role `json:"role"`
	SaleTeamID *uint        `json:"sale_team_id"`
	IsActive   *bool        `json:"is_active"`
}

// UserService 用户与销售组管理，仅管理员可用
type UserService struct {
	db    *gorm.DB
	audit AuditRecorder
	log   zerolog.Logger
}

// NewUserService 创建用户服务
func NewUserService(db *gorm.DB, audit AuditRecorder) *UserService {
	return &UserService{db: db, audit: audit, log: logger.WithComponent("users")}
}

// ListUsers 按角色、销售组、启用状态分页查询用户
func (s *UserService) ListUsers(ctx context.Context, query models.UserQuery, actor *models.User) (models.Page[models.User], error) {
	var page models.Page[models.User]
	if err := Authorize(actor, OpManageUsers, Target{}); err != nil {
		return page, err
	}

	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		query.PageSize = 20
	}
	if query.PageSize > 100 {
		query.PageSize = 100
	}

	db := s.db.WithContext(ctx).Model(&models.User{})
	if query.Role != "" {
		db = db.Where("role = ?", strings.ToUpper(query.Role))
	}
	if query.SaleTeamID != 0 {
		db = db.Where("sale_team_id = ?", query.SaleTeamID)
	}
	switch query.IsActive {
	case "true":
		db = db.Where("is_active = ?", true)
	case "false":
		db = db.Where("is_active = ?", false)
	}

	if err := db.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
		return page, utils.Internal(err)
	}

	page.Items = make([]models.User, 0)
	offset := (query.Page - 1) * query.PageSize
	if err := db.Preload("SaleTeam").Order("id ASC").Offset(offset).Limit(query.PageSize).Find(&page.Items).Error; err != nil {
		return page, utils.Internal(err)
	}
	return page, nil
}

// GetUser 获取单个用户
func (s *UserService) GetUser(ctx context.Context, id uint, actor *models.User) (*models.User, error) {
	if err := Authorize(actor, OpManageUsers, Target{}); err != nil {
		return nil, err
	}
	return s.findUser(s.db.WithContext(ctx), id)
}

// CreateUser 创建用户
func (s *UserService) CreateUser(ctx context.Context, input CreateUserInput, actor *models.User) (*models.User, error) {
	if err := Authorize(actor, OpManageUsers, Target{}); err != nil {
		return nil, err
	}

	email := models.NormalizeEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, utils.Unprocessable("邮箱格式不正确")
	}
	if len(input.Password) < minPasswordLength {
		return nil, utils.Unprocessable(fmt.Sprintf("密码长度不能少于%d位", minPasswordLength))
	}
	if !input.Role.Valid() {
		return nil, utils.Unprocessable("无效的角色")
	}

	user := &models.User{
		Email:      email,
		FullName:   strings.TrimSpace(input.FullName),
		Role:       input.Role,
		SaleTeamID: input.SaleTeamID,
		IsActive:   true,
	}
	if err := user.SetPassword(input.Password); err != nil {
		return nil, utils.Internal(fmt.Errorf("密码加密失败: %w", err))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := validateTeamMembership(tx, user.Role, user.SaleTeamID); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return utils.Internal(err)
		}
		if count > 0 {
			return utils.Unprocessable("邮箱已被使用")
		}

		if err := tx.Create(user).Error; err != nil {
			return utils.Internal(fmt.Errorf("创建用户失败: %w", err))
		}

		s.audit.Record(database.WithTx(ctx, tx), AuditEntry{
			Action:     models.AuditUserCreated,
			EntityType: models.EntityUser,
			EntityID:   idString(user.ID),
			After:      user,
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return nil, utils.AsAppError(err)
	}

	s.log.Info().Uint("user_id", user.ID).Str("role", string(user.Role)).Uint("actor_id", actor.ID).Msg("用户已创建")
	return s.findUser(s.db.WithContext(ctx), user.ID)
}

// UpdateUser 修改用户，角色或销售组变化后重新校验约束
func (s *UserService) UpdateUser(ctx context.Context, id uint, input UpdateUserInput, actor *models.User) (*models.User, error) {
	if err := Authorize(actor, OpManageUsers, Target{}); err != nil {
		return nil, err
	}

	var updated *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.findUser(tx, id)
		if err != nil {
			return err
		}
		before := *user

		changes := map[string]interface{}{}
		if input.FullName != nil {
			changes["full_name"] = strings.TrimSpace(*input.FullName)
		}

		role := user.Role
		if input.Role != nil {
			if !input.Role.Valid() {
				return utils.Unprocessable("无效的角色")
			}
			role = *input.Role
			changes["role"] = role
		}

		team := user.SaleTeamID
		if input.SaleTeamID != nil {
			if *input.SaleTeamID == 0 {
				team = nil
			} else {
				team = input.SaleTeamID
			}
		} else if !role.NeedsTeam() {
			// 改为财务或管理员时自动移出销售组
			team = nil
		}
		if err := validateTeamMembership(tx, role, team); err != nil {
			return err
		}
		changes["sale_team_id"] = team

		deactivating := false
		if input.IsActive != nil {
			if !*input.IsActive && user.ID == actor.ID {
				return utils.Unprocessable("不能停用自己的账号")
			}
			changes["is_active"] = *input.IsActive
			deactivating = user.IsActive && !*input.IsActive
		}

		if err := tx.Model(&models.User{}).Where("id = ?", id).Updates(changes).Error; err != nil {
			return utils.Internal(err)
		}
		if deactivating {
			if err := revokeAllSessions(tx, id); err != nil {
				return utils.Internal(err)
			}
		}

		updated, err = s.findUser(tx, id)
		if err != nil {
			return err
		}
		s.audit.Record(database.WithTx(ctx, tx), AuditEntry{
			Action:     models.AuditUserUpdated,
			EntityType: models.EntityUser,
			EntityID:   idString(id),
			Before:     before,
			After:      updated,
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return nil, utils.AsAppError(err)
	}
	return updated, nil
}

// ResetPassword 生成临时密码并使该用户全部会话失效，临时密码只返回这一次
func (s *UserService) ResetPassword(ctx context.Context, id uint, actor *models.User) (string, error) {
	if err := Authorize(actor, OpManageUsers, Target{}); err != nil {
		return "", err
	}

	password := utils.GenerateTempPassword()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.findUser(tx, id)
		if err != nil {
			return err
		}
		if err := user.SetPassword(password); err != nil {
			return utils.Internal(err)
		}
		if err := tx.Model(&models.User{}).Where("id = ?", id).Update("password_hash", user.PasswordHash).Error; err != nil {
			return utils.Internal(err)
		}
		if err := revokeAllSessions(tx, id); err != nil {
			return utils.Internal(err)
		}

		s.audit.Record(database.WithTx(ctx, tx), AuditEntry{
			Action:     models.AuditPasswordReset,
			EntityType: models.EntityUser,
			EntityID:   idString(id),
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return "", utils.AsAppError(err)
	}
	return password, nil
}

// DeactivateUser 停用用户并删除其全部会话
func (s *UserService) DeactivateUser(ctx context.Context, id uint, actor *models.User) error {
	if err := Authorize(actor, OpManageUsers, Target{}); err != nil {
		return err
	}
	if id == actor.ID {
		return utils.Unprocessable("不能停用自己的账号")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.findUser(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", id).Update("is_active", false).Error; err != nil {
			return utils.Internal(err)
		}
		if err := revokeAllSessions(tx, id); err != nil {
			return utils.Internal(err)
		}

		s.audit.Record(database.WithTx(ctx, tx), AuditEntry{
			Action:     models.AuditUserDeactivated,
			EntityType: models.EntityUser,
			EntityID:   idString(id),
			Before:     map[string]interface{}{"is_active": user.IsActive},
			After:      map[string]interface{}{"is_active": false},
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return utils.AsAppError(err)
	}
	return nil
}

// ListTeams 列出全部销售组，任何已登录用户可用
func (s *UserService) ListTeams(ctx context.Context, actor *models.User) ([]models.SaleTeam, error) {
	if actor == nil || !actor.IsActive {
		return nil, utils.Unauthorized("未登录或账号已停用")
	}
	teams := make([]models.SaleTeam, 0)
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&teams).Error; err != nil {
		return nil, utils.Internal(err)
	}
	return teams, nil
}

// CreateTeam 创建销售组，组名唯一
func (s *UserService) CreateTeam(ctx context.Context, name, description string, actor *models.User) (*models.SaleTeam, error) {
	if err := Authorize(actor, OpManageTeams, Target{}); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, utils.Unprocessable("组名不能为空")
	}

	team := &models.SaleTeam{Name: name, Description: strings.TrimSpace(description), IsActive: true}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.SaleTeam{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return utils.Internal(err)
		}
		if count > 0 {
			return utils.Unprocessable("组名已存在")
		}
		if err := tx.Create(team).Error; err != nil {
			return utils.Internal(err)
		}

		s.audit.Record(database.WithTx(ctx, tx), AuditEntry{
			Action:     models.AuditTeamCreated,
			EntityType: models.EntitySaleTeam,
			EntityID:   idString(team.ID),
			After:      team,
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return nil, utils.AsAppError(err)
	}
	return team, nil
}

func (s *UserService) findUser(db *gorm.DB, id uint) (*models.User, error) {
	var user models.User
	if err := db.Preload("SaleTeam").First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("用户不存在")
		}
		return nil, utils.Internal(err)
	}
	return &user, nil
}

// validateTeamMembership 销售与组长必须属于启用中的销售组，财务与管理员不能属于销售组
func validateTeamMembership(db *gorm.DB, role models.Role, teamID *uint) error {
	if !role.NeedsTeam() {
		if teamID != nil {
			return utils.Unprocessable("财务与管理员不能隶属销售组")
		}
		return nil
	}
	if teamID == nil {
		return utils.Unprocessable("销售与组长必须指定销售组")
	}

	var team models.SaleTeam
	if err := db.First(&team, *teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Unprocessable("销售组不存在")
		}
		return utils.Internal(err)
	}
	if !team.IsActive {
		return utils.Unprocessable("销售组已停用")
	}
	return nil
}
