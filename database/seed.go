package database

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"payment_recon/models"
)

// SeedData 初始化数据文件结构
type SeedData struct {
	Teams []SeedTeam `yaml:"teams"`
	Users []SeedUser `yaml:"users"`
}

// SeedTeam 初始销售组
type SeedTeam struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SeedUser 初始用户，Team 为销售组名称
type SeedUser struct {
	Email    string      `yaml:"email"`
	Password string      `yaml:"password"`
	FullName string      `yaml:"full_name"`
	Role     models.Role `yaml:"role"`
	Team     string      `yaml:"team"`
}

// SeedReport 本次实际新建的数量
type SeedReport struct {
	TeamsCreated int
	UsersCreated int
}

// LoadSeedFile 读取YAML初始化数据
func LoadSeedFile(path string) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取初始化文件失败: %w", err)
	}
	var data SeedData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("解析初始化文件失败: %w", err)
	}
	return &data, nil
}

// Seed 写入初始销售组和用户，按组名与邮箱去重，可重复执行
func Seed(db *gorm.DB, data *SeedData) (SeedReport, error) {
	var report SeedReport

	err := db.Transaction(func(tx *gorm.DB) error {
		teamIDs := make(map[string]uint)
		for _, t := range data.Teams {
			var team models.SaleTeam
			err := tx.Where("name = ?", t.Name).First(&team).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				team = models.SaleTeam{Name: t.Name, Description: t.Description, IsActive: true}
				if err := tx.Create(&team).Error; err != nil {
					return fmt.Errorf("创建销售组 %s 失败: %w", t.Name, err)
				}
				report.TeamsCreated++
			} else if err != nil {
				return err
			}
			teamIDs[t.Name] = team.ID
		}

		for _, u := range data.Users {
			email := models.NormalizeEmail(u.Email)
			if !u.Role.Valid() {
				return fmt.Errorf("用户 %s 的角色无效: %s", email, u.Role)
			}

			var count int64
			if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			user := models.User{Email: email, FullName: u.FullName, Role: u.Role, IsActive: true}
			if u.Role.NeedsTeam() {
				id, ok := teamIDs[u.Team]
				if !ok {
					return fmt.Errorf("用户 %s 的销售组不存在: %s", email, u.Team)
				}
				user.SaleTeamID = &id
			}
			if err := user.SetPassword(u.Password); err != nil {
				return err
			}
			if err := tx.Create(&user).Error; err != nil {
				return fmt.Errorf("创建用户 %s 失败: %w", email, err)
			}
			report.UsersCreated++
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	log.Info().Int("teams", report.TeamsCreated).Int("users", report.UsersCreated).Msg("初始化数据已写入")
	return report, nil
}
