package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice 销售开具的发票，隶属于唯一一笔付款
// IsLocked 只随付款的提交/解锁整体变化，不能单独修改
type Invoice struct {
	ID              uint                `json:"id" gorm:"primaryKey"`                        // 主键ID
	PaymentID       uint                `json:"payment_id" gorm:"index;not null"`            // 所属付款
	Payment         *Payment            `json:"payment,omitempty" gorm:"foreignKey:PaymentID"`
	InvoiceNumber   string              `json:"invoice_number" gorm:"size:50;not null"`      // 发票号
	InvoiceDate     *time.Time          `json:"invoice_date"`                                // 开票日期
	CustomerName    string              `json:"customer_name" gorm:"size:255"`               // 客户名称
	CustomerTaxCode string              `json:"customer_tax_code" gorm:"size:50"`            // 客户税号
	Currency        string              `json:"currency" gorm:"size:3;not null"`             // 发票币种
	TotalAmount     decimal.Decimal     `json:"total_amount" gorm:"type:decimal(15,2)"`      // 发票金额
	ConvertedAmount decimal.Decimal     `json:"converted_amount" gorm:"type:decimal(15,2)"`  // 折算为付款币种后的金额
	ExchangeRate    decimal.NullDecimal `json:"exchange_rate" gorm:"type:decimal(10,4)"`     // 汇率
	DiscrepancyNote string              `json:"discrepancy_note" gorm:"type:text"`           // 差额说明
	IsLocked        bool                `json:"is_locked" gorm:"not null;default:false"`     // 是否锁定
	Lines           []InvoiceLine       `json:"lines,omitempty" gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
	LastEditedByID  *uint               `json:"last_edited_by_id"`                 // 最后编辑人
	LastEditedAt    *time.Time          `json:"last_edited_at"`                    // 最后编辑时间
	CreatedAt       time.Time           `json:"created_at" gorm:"autoCreateTime"` // 创建时间
	UpdatedAt       time.Time           `json:"updated_at" gorm:"autoUpdateTime"` // 更新时间
}

// TableName 返回表名
func (Invoice) TableName() string {
	return "invoices"
}

// HasDiscrepancyNote 是否填写了非空的差额说明
func (i *Invoice) HasDiscrepancyNote() bool {
	return strings.TrimSpace(i.DiscrepancyNote) != ""
}

// InvoiceLine 发票明细行
// IsLocked 与所属发票保持一致
type InvoiceLine struct {
	ID          uint                `json:"id" gorm:"primaryKey"`                    // 主键ID
	InvoiceID   uint                `json:"invoice_id" gorm:"index;not null"`        // 所属发票
	LineNumber  int                 `json:"line_number" gorm:"not null"`             // 行号
	Description string              `json:"description" gorm:"type:text"`            // 描述
	Quantity    decimal.Decimal     `json:"quantity" gorm:"type:decimal(15,4)"`      // 数量
	UnitPrice   decimal.Decimal     `json:"unit_price" gorm:"type:decimal(15,2)"`    // 单价
	LineTotal   decimal.Decimal     `json:"line_total" gorm:"type:decimal(15,2)"`    // 行金额 = 数量 × 单价
	TaxRate     decimal.NullDecimal `json:"tax_rate" gorm:"type:decimal(5,2)"`       // 税率（百分比）
	TaxAmount   decimal.NullDecimal `json:"tax_amount" gorm:"type:decimal(15,2)"`    // 税额
	IsLocked    bool                `json:"is_locked" gorm:"not null;default:false"` // 是否锁定
	CreatedAt   time.Time           `json:"created_at" gorm:"autoCreateTime"`        // 创建时间
	UpdatedAt   time.Time           `json:"updated_at" gorm:"autoUpdateTime"`        // 更新时间
}

// TableName 返回表名
func (InvoiceLine) TableName() string {
	return "invoice_lines"
}

// ComputeTotals 计算行金额；提供税率而未提供税额时按税率计算税额
func (l *InvoiceLine) ComputeTotals() {
	l.LineTotal = l.Quantity.Mul(l.UnitPrice).Round(2)
	if l.TaxRate.Valid && !l.TaxAmount.Valid {
		l.TaxAmount = decimal.NewNullDecimal(l.LineTotal.Mul(l.TaxRate.Decimal).Div(decimal.NewFromInt(100)).Round(2))
	}
}
