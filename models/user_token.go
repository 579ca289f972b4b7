package models

import (
	"time"
)

// UserToken 用户登录会话
// 每次登录签发的JWT都会落库，登出、重置密码、停用账号时删除对应记录即可使令牌立即失效
// 支持多设备登录，每个设备一条记录
type UserToken struct {
	ID        uint      `json:"id" gorm:"primaryKey"`             // 主键ID
	UserID    uint      `json:"user_id" gorm:"index"`             // 关联的用户ID
	Token     string    `json:"-" gorm:"size:500;index"`          // JWT令牌字符串，不返回给前端
	UserAgent string    `json:"user_agent" gorm:"size:255"`       // 用户代理信息，用于识别登录设备
	IP        string    `json:"ip" gorm:"size:50"`                // 登录IP地址
	ExpiredAt time.Time `json:"expired_at" gorm:"index"`          // 令牌过期时间
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"` // 记录创建时间
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"` // 记录更新时间
}

// TableName 返回表名
func (UserToken) TableName() string {
	return "user_tokens"
}
