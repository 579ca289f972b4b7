package services

import (
	"context"

	"payment_recon/models"
)

// PaymentStore 付款、发票、明细行的事务性存储
// 查不到记录时返回 gorm.ErrRecordNotFound
type PaymentStore interface {
	// Transaction 在单个事务内执行 fn，fn 返回错误时整体回滚
	// 传入 fn 的上下文携带事务句柄，审计记录据此加入同一事务
	Transaction(ctx context.Context, fn func(ctx context.Context, tx PaymentStore) error) error

	FindPayment(ctx context.Context, id uint) (*models.Payment, error)
	// FindPaymentTree 加载付款及其销售组、发票、明细行；forUpdate 时先对付款行加行锁
	FindPaymentTree(ctx context.Context, id uint, forUpdate bool) (*models.Payment, error)
	// FindInvoice 加载发票、明细行及所属付款；forUpdate 时对所属付款行加行锁
	FindInvoice(ctx context.Context, id uint, forUpdate bool) (*models.Invoice, error)
	FindTeam(ctx context.Context, id uint) (*models.SaleTeam, error)

	ListPayments(ctx context.Context, scope models.PaymentScope, filter models.PaymentFilter) ([]models.Payment, int64, error)
	ListPaymentTrees(ctx context.Context, scope models.PaymentScope, filter models.PaymentFilter) ([]models.Payment, error)

	CreateImportBatch(ctx context.Context, batch *models.ImportBatch) error
	CreatePayments(ctx context.Context, payments []models.Payment) error
	// UpdatePaymentIf 仅当付款当前状态属于 allowed 时更新，返回是否命中
	UpdatePaymentIf(ctx context.Context, id uint, allowed []models.PaymentStatus, changes map[string]interface{}) (bool, error)
	UpdatePayment(ctx context.Context, id uint, changes map[string]interface{}) error

	// SetInvoiceLock 同时设置发票及其全部明细行的锁定标记
	SetInvoiceLock(ctx context.Context, invoiceID uint, locked bool) error
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	UpdateInvoice(ctx context.Context, id uint, changes map[string]interface{}) error
	DeleteInvoice(ctx context.Context, id uint) error
	CreateInvoiceLine(ctx context.Context, line *models.InvoiceLine) error
	NextLineNumber(ctx context.Context, invoiceID uint) (int, error)
}
