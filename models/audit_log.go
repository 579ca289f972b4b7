package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditAction 审计动作
type AuditAction string

const (
	AuditLoginSuccess     AuditAction = "LOGIN_SUCCESS"
	AuditLoginFailed      AuditAction = "LOGIN_FAILED"
	AuditLogout           AuditAction = "LOGOUT"
	AuditUserCreated      AuditAction = "USER_CREATED"
	AuditUserUpdated      AuditAction = "USER_UPDATED"
	AuditUserDeactivated  AuditAction = "USER_DEACTIVATED"
	AuditPasswordReset    AuditAction = "PASSWORD_RESET"
	AuditTeamCreated      AuditAction = "TEAM_CREATED"
	AuditPaymentAssigned  AuditAction = "PAYMENT_ASSIGNED"
	AuditPaymentUpdated   AuditAction = "PAYMENT_UPDATED"
	AuditPaymentSubmitted AuditAction = "PAYMENT_SUBMITTED"
	AuditPaymentUnlocked  AuditAction = "PAYMENT_UNLOCKED"
	AuditPaymentCompleted AuditAction = "PAYMENT_COMPLETED"
	AuditInvoiceCreated   AuditAction = "INVOICE_CREATED"
	AuditInvoiceUpdated   AuditAction = "INVOICE_UPDATED"
	AuditInvoiceDeleted   AuditAction = "INVOICE_DELETED"
	AuditInvoiceLineAdded AuditAction = "INVOICE_LINE_ADDED"
	AuditImportCompleted  AuditAction = "IMPORT_COMPLETED"
	AuditImportFailed     AuditAction = "IMPORT_FAILED"
	AuditExportRequested  AuditAction = "EXPORT_REQUESTED"
)

// 审计实体类型
const (
	EntityPayment     = "Payment"
	EntityInvoice     = "Invoice"
	EntityInvoiceLine = "InvoiceLine"
	EntityUser        = "User"
	EntitySaleTeam    = "SaleTeam"
	EntityImportBatch = "ImportBatch"
)

// AuditLog 审计日志，只追加，不更新不删除
type AuditLog struct {
	ID          string         `json:"id" gorm:"primaryKey;size:36"`            // UUID
	PaymentNo   string         `json:"payment_no" gorm:"size:50;index"`         // 关联的付款编号
	EntityType  string         `json:"entity_type" gorm:"size:50;index"`        // 实体类型
	EntityID    string         `json:"entity_id" gorm:"size:50"`                // 实体ID
	Action      AuditAction    `json:"action" gorm:"size:50;index;not null"`    // 动作
	OldValue    datatypes.JSON `json:"old_value"`                               // 变更前快照
	NewValue    datatypes.JSON `json:"new_value"`                               // 变更后快照
	PerformedBy *uint          `json:"performed_by" gorm:"index"`               // 操作人
	PerformedAt time.Time      `json:"performed_at" gorm:"index;not null"`      // 操作时间
	IPAddress   string         `json:"ip_address" gorm:"size:50"`               // 来源IP
	UserAgent   string         `json:"user_agent" gorm:"type:text"`             // 客户端标识
	RequestID   string         `json:"request_id" gorm:"size:36"`               // 请求ID
}

// TableName 返回表名
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate 生成主键与操作时间
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.PerformedAt.IsZero() {
		a.PerformedAt = time.Now()
	}
	return nil
}

// ErrAuditLogImmutable 审计日志只允许追加
var ErrAuditLogImmutable = errors.New("审计日志不允许修改或删除")

// BeforeUpdate 拒绝任何经由模型的更新
func (a *AuditLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditLogImmutable
}

// BeforeDelete 拒绝任何经由模型的删除
func (a *AuditLog) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditLogImmutable
}

// AuditLogFilter 审计日志查询条件
type AuditLogFilter struct {
	PaymentNo   string
	EntityType  string
	Action      AuditAction
	PerformedBy *uint
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
	Offset      int
}

// AuditLogQuery 审计日志查询参数
type AuditLogQuery struct {
	PaymentNo   string `json:"payment_no" query:"payment_no"`     // 付款编号
	EntityType  string `json:"entity_type" query:"entity_type"`   // 实体类型
	Action      string `json:"action" query:"action"`             // 动作
	PerformedBy uint   `json:"performed_by" query:"performed_by"` // 操作人
	StartDate   string `json:"start_date" query:"start_date"`     // 开始日期 YYYY-MM-DD
	EndDate     string `json:"end_date" query:"end_date"`         // 结束日期 YYYY-MM-DD
	Limit       int    `json:"limit" query:"limit"`               // 每页数量
	Offset      int    `json:"offset" query:"offset"`             // 偏移量
}

// ImportBatch 银行流水导入批次
type ImportBatch struct {
	ID             uint           `json:"id" gorm:"primaryKey"`             // 主键ID
	Filename       string         `json:"filename" gorm:"size:255"`         // 文件名
	ImportedByID   uint           `json:"imported_by_id" gorm:"index"`      // 导入人
	TotalRows      int            `json:"total_rows"`                       // 总行数
	SuccessfulRows int            `json:"successful_rows"`                  // 成功行数
	FailedRows     int            `json:"failed_rows"`                      // 失败行数
	ErrorLog       datatypes.JSON `json:"error_log"`                        // 行级错误
	CreatedAt      time.Time      `json:"created_at" gorm:"autoCreateTime"` // 创建时间
}

// TableName 返回表名
func (ImportBatch) TableName() string {
	return "import_batches"
}
