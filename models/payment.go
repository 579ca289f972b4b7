package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus 付款状态
// NEW → DRAFT → SUBMITTED → COMPLETED，另有 SUBMITTED → DRAFT 的解锁回退
type PaymentStatus string

const (
	PaymentStatusNew       PaymentStatus = "NEW"       // 导入后的初始状态
	PaymentStatusDraft     PaymentStatus = "DRAFT"     // 已分配，录入发票中
	PaymentStatusSubmitted PaymentStatus = "SUBMITTED" // 已提交，发票锁定
	PaymentStatusCompleted PaymentStatus = "COMPLETED" // 财务已确认，终态
)

// Valid 判断状态值是否合法
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusNew, PaymentStatusDraft, PaymentStatusSubmitted, PaymentStatusCompleted:
		return true
	}
	return false
}

// Frozen 已提交或已完成的付款不允许非管理员再修改
func (s PaymentStatus) Frozen() bool {
	return s == PaymentStatusSubmitted || s == PaymentStatusCompleted
}

// Payment 银行到账记录，发票对账的聚合根
type Payment struct {
	ID             uint            `json:"id" gorm:"primaryKey"`                                 // 主键ID
	PaymentNo      string          `json:"payment_no" gorm:"size:50;uniqueIndex;not null"`      // 付款编号，创建后不可修改
	BankAccount    string          `json:"bank_account" gorm:"size:50;not null"`                // 收款银行账号
	PaymentDate    time.Time       `json:"payment_date" gorm:"index;not null"`                  // 到账日期
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(15,2);not null"`           // 到账金额
	Currency       string          `json:"currency" gorm:"size:3;not null"`                     // 币种
	PayFrom        string          `json:"pay_from" gorm:"type:text"`                           // 付款方
	Description    string          `json:"description" gorm:"type:text"`                        // 付款说明
	AssignedTeamID *uint           `json:"assigned_team_id" gorm:"index"`                       // 分配的销售组
	AssignedTeam   *SaleTeam       `json:"assigned_team,omitempty" gorm:"foreignKey:AssignedTeamID"`
	AssignedByID   *uint           `json:"assigned_by_id"`                                      // 分配人
	AssignedAt     *time.Time      `json:"assigned_at"`                                         // 分配时间
	Status         PaymentStatus   `json:"status" gorm:"size:20;index;not null;default:NEW"`    // 状态
	SubmittedByID  *uint           `json:"submitted_by_id"`                                     // 提交人
	SubmittedAt    *time.Time      `json:"submitted_at"`                                        // 提交时间
	UnlockedByID   *uint           `json:"unlocked_by_id"`                                      // 解锁人
	UnlockedAt     *time.Time      `json:"unlocked_at"`                                         // 解锁时间
	UnlockReason   string          `json:"unlock_reason" gorm:"type:text"`                      // 解锁原因
	LastEditedByID *uint           `json:"last_edited_by_id"`                                   // 最后编辑人
	LastEditedAt   *time.Time      `json:"last_edited_at"`                                      // 最后编辑时间
	ImportBatchID  *uint           `json:"import_batch_id" gorm:"index"`                        // 导入批次
	Invoices       []Invoice       `json:"invoices,omitempty" gorm:"foreignKey:PaymentID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time       `json:"created_at" gorm:"autoCreateTime"` // 创建时间
	UpdatedAt      time.Time       `json:"updated_at" gorm:"autoUpdateTime"` // 更新时间
}

// TableName 返回表名
func (Payment) TableName() string {
	return "payments"
}

// TeamName 返回分配的销售组名称，未分配时返回空串
func (p *Payment) TeamName() string {
	if p.AssignedTeam == nil {
		return ""
	}
	return p.AssignedTeam.Name
}

// InvoiceTotal 汇总所有发票的折算金额
func (p *Payment) InvoiceTotal() decimal.Decimal {
	total := decimal.Zero
	for _, inv := range p.Invoices {
		total = total.Add(inv.ConvertedAmount)
	}
	return total
}

// PaymentScope 数据可见范围，由权限策略计算得出，仓储层转换为查询条件
type PaymentScope struct {
	All               bool  // 不限制
	TeamID            *uint // 本组
	IncludeUnassigned bool  // 是否包含未分配的付款
}

// PaymentFilter 付款列表筛选条件
type PaymentFilter struct {
	Status    PaymentStatus
	StartDate *time.Time
	EndDate   *time.Time
	TeamID    *uint
	Limit     int
	Offset    int
}

// PaymentQuery 付款列表查询参数
type PaymentQuery struct {
	Status    string `json:"status" query:"status"`         // 状态
	StartDate string `json:"start_date" query:"start_date"` // 开始日期 YYYY-MM-DD
	EndDate   string `json:"end_date" query:"end_date"`     // 结束日期 YYYY-MM-DD
	TeamID    uint   `json:"team_id" query:"team_id"`       // 销售组
	Limit     int    `json:"limit" query:"limit"`           // 每页数量
	Offset    int    `json:"offset" query:"offset"`         // 偏移量
}

// Page 分页结果
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}
