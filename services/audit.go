package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"payment_recon/database"
	"payment_recon/logger"
	"payment_recon/metrics"
	"payment_recon/models"
	"payment_recon/utils"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

// AuditEntry 一条待写入的审计记录
type AuditEntry struct {
	Action     models.AuditAction
	EntityType string
	EntityID   string
	PaymentNo  string      // 关联的付款编号
	Before     interface{} // 变更前快照
	After      interface{} // 变更后快照
	ActorID    *uint
}

// AuditRecorder 审计记录接口
// Record 从不返回错误，失败只记日志
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditService 持久化审计日志
// 上下文中带有事务时在该事务的保存点内写入，写入失败只回滚到保存点，不影响业务事务
type AuditService struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewAuditService 创建审计服务
func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db, log: logger.WithComponent("audit")}
}

// Record 写入一条审计记录
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	defer func() {
		if r := recover(); r != nil {
			metrics.AuditWriteFailures.Inc()
			s.log.Error().Interface("panic", r).Str("action", string(entry.Action)).Msg("写入审计日志时发生panic")
		}
	}()

	prov := ProvenanceFrom(ctx)
	row := models.AuditLog{
		PaymentNo:   entry.PaymentNo,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Action:      entry.Action,
		OldValue:    s.snapshot(entry.Before),
		NewValue:    s.snapshot(entry.After),
		PerformedBy: entry.ActorID,
		IPAddress:   prov.IP,
		UserAgent:   prov.UserAgent,
		RequestID:   prov.RequestID,
	}

	db := database.FromContext(ctx, s.db)
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		metrics.AuditWriteFailures.Inc()
		s.log.Error().Err(err).
			Str("action", string(entry.Action)).
			Str("entity_type", entry.EntityType).
			Str("entity_id", entry.EntityID).
			Str("payment_no", entry.PaymentNo).
			Msg("写入审计日志失败")
	}
}

func (s *AuditService) snapshot(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn().Err(err).Msg("审计快照序列化失败")
		return nil
	}
	return datatypes.JSON(data)
}

// Query 按条件查询审计日志，按操作时间倒序
func (s *AuditService) Query(ctx context.Context, filter models.AuditLogFilter) (models.Page[models.AuditLog], error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	q := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.PaymentNo != "" {
		q = q.Where("payment_no = ?", filter.PaymentNo)
	}
	if filter.EntityType != "" {
		q = q.Where("entity_type = ?", filter.EntityType)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.PerformedBy != nil {
		q = q.Where("performed_by = ?", *filter.PerformedBy)
	}
	if filter.StartDate != nil {
		q = q.Where("performed_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		q = q.Where("performed_at <= ?", *filter.EndDate)
	}

	var page models.Page[models.AuditLog]
	if err := q.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
		return page, utils.Internal(fmt.Errorf("统计审计日志失败: %w", err))
	}

	page.Items = make([]models.AuditLog, 0)
	if err := q.Order("performed_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&page.Items).Error; err != nil {
		return page, utils.Internal(fmt.Errorf("查询审计日志失败: %w", err))
	}

	return page, nil
}
