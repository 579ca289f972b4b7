// Package models 定义了应用程序的数据模型
// 包含所有与数据库表对应的结构体定义和相关方法
package models

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Role 用户角色
type Role string

const (
	RoleSaleStaff  Role = "SALE_STAFF"  // 一线销售
	RoleSaleLeader Role = "SALE_LEADER" // 销售组长
	RoleAccounting Role = "ACCOUNTING"  // 财务
	RoleAdmin      Role = "ADMIN"       // 管理员
)

// Valid 判断角色是否属于固定角色集合
func (r Role) Valid() bool {
	switch r {
	case RoleSaleStaff, RoleSaleLeader, RoleAccounting, RoleAdmin:
		return true
	}
	return false
}

// NeedsTeam 销售与组长必须隶属于某个销售组，财务与管理员不得隶属
func (r Role) NeedsTeam() bool {
	return r == RoleSaleStaff || r == RoleSaleLeader
}

// User 系统用户
// 同时承担操作者身份，角色与所属销售组决定数据可见范围
type User struct {
	ID           uint       `json:"id" gorm:"primaryKey"`                      // 主键ID
	Email        string     `json:"email" gorm:"size:255;uniqueIndex;not null"` // 登录邮箱，小写存储
	PasswordHash string     `json:"-" gorm:"size:100;not null"`                // 密码哈希，不返回给前端
	FullName     string     `json:"full_name" gorm:"size:100"`                 // 姓名
	Role         Role       `json:"role" gorm:"size:20;not null;index"`        // 角色
	SaleTeamID   *uint      `json:"sale_team_id" gorm:"index"`                 // 所属销售组
	SaleTeam     *SaleTeam  `json:"sale_team,omitempty" gorm:"foreignKey:SaleTeamID"`
	IsActive     bool       `json:"is_active" gorm:"not null;default:true"` // 是否启用
	LastLoginAt  *time.Time `json:"last_login_at"`                          // 最后登录时间
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`       // 创建时间
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`       // 更新时间
}

// TableName 返回表名
func (User) TableName() string {
	return "users"
}

// SetPassword 设置加密密码
func (u *User) SetPassword(plainPassword string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

// CheckPassword 验证密码
func (u *User) CheckPassword(plainPassword string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plainPassword))
	return err == nil
}

// NormalizeEmail 邮箱统一去空格并转小写
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SaleTeam 销售组
// 限定销售与组长的可见范围以及付款分配范围
type SaleTeam struct {
	ID          uint      `json:"id" gorm:"primaryKey"`                      // 主键ID
	Name        string    `json:"name" gorm:"size:100;uniqueIndex;not null"` // 组名，唯一
	Description string    `json:"description" gorm:"type:text"`              // 描述
	IsActive    bool      `json:"is_active" gorm:"not null;default:true"`    // 是否启用
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`          // 创建时间
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`          // 更新时间
}

// TableName 返回表名
func (SaleTeam) TableName() string {
	return "sale_teams"
}

// UserQuery 用户查询参数
type UserQuery struct {
	Role       string `json:"role" query:"role"`                 // 角色
	SaleTeamID uint   `json:"sale_team_id" query:"sale_team_id"` // 销售组
	IsActive   string `json:"is_active" query:"is_active"`       // 是否启用：true/false
	Page       int    `json:"page" query:"page"`                 // 页码
	PageSize   int    `json:"page_size" query:"page_size"`       // 每页数量
}
