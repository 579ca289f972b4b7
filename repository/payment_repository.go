// Package repository 基于GORM实现业务层定义的存储接口
package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment_recon/database"
	"payment_recon/models"
	"payment_recon/services"
)

// PaymentRepository 付款、发票、明细行的GORM存储
type PaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository 创建付款存储
func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

var _ services.PaymentStore = (*PaymentRepository)(nil)

func (r *PaymentRepository) conn(ctx context.Context) *gorm.DB {
	return database.FromContext(ctx, r.db)
}

// Transaction 开启事务，事务句柄同时放入上下文
func (r *PaymentRepository) Transaction(ctx context.Context, fn func(ctx context.Context, tx services.PaymentStore) error) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(database.WithTx(ctx, tx), &PaymentRepository{db: tx})
	})
}

// FindPayment 只加载付款本身及销售组
func (r *PaymentRepository) FindPayment(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.conn(ctx).Preload("AssignedTeam").First(&payment, id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindPaymentTree 加载付款、销售组、发票与明细行
func (r *PaymentRepository) FindPaymentTree(ctx context.Context, id uint, forUpdate bool) (*models.Payment, error) {
	db := r.conn(ctx)
	if forUpdate {
		if err := lockPayment(db, id); err != nil {
			return nil, err
		}
	}

	var payment models.Payment
	err := withTree(db.Preload("AssignedTeam")).First(&payment, id).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindInvoice 加载发票、明细行及所属付款
func (r *PaymentRepository) FindInvoice(ctx context.Context, id uint, forUpdate bool) (*models.Invoice, error) {
	db := r.conn(ctx)
	if forUpdate {
		var paymentID uint
		if err := db.Model(&models.Invoice{}).Select("payment_id").Where("id = ?", id).Scan(&paymentID).Error; err != nil {
			return nil, err
		}
		if paymentID == 0 {
			return nil, gorm.ErrRecordNotFound
		}
		if err := lockPayment(db, paymentID); err != nil {
			return nil, err
		}
	}

	var invoice models.Invoice
	err := db.Preload("Payment").
		Preload("Payment.AssignedTeam").
		Preload("Lines", orderBy("line_number")).
		First(&invoice, id).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// FindTeam 按ID查询销售组
func (r *PaymentRepository) FindTeam(ctx context.Context, id uint) (*models.SaleTeam, error) {
	var team models.SaleTeam
	if err := r.conn(ctx).First(&team, id).Error; err != nil {
		return nil, err
	}
	return &team, nil
}

// ListPayments 分页查询付款，按到账日期倒序
func (r *PaymentRepository) ListPayments(ctx context.Context, scope models.PaymentScope, filter models.PaymentFilter) ([]models.Payment, int64, error) {
	q := applyFilter(applyScope(r.conn(ctx).Model(&models.Payment{}), scope), filter)

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	payments := make([]models.Payment, 0)
	err := q.Preload("AssignedTeam").
		Order("payment_date DESC").Order("id DESC").
		Limit(filter.Limit).Offset(filter.Offset).
		Find(&payments).Error
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

// ListPaymentTrees 查询付款及其发票与明细行，用于导出
func (r *PaymentRepository) ListPaymentTrees(ctx context.Context, scope models.PaymentScope, filter models.PaymentFilter) ([]models.Payment, error) {
	q := applyFilter(applyScope(r.conn(ctx).Model(&models.Payment{}), scope), filter)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}

	payments := make([]models.Payment, 0)
	err := withTree(q.Preload("AssignedTeam")).
		Order("payment_date DESC").Order("id DESC").
		Find(&payments).Error
	return payments, err
}

// CreateImportBatch 创建导入批次
func (r *PaymentRepository) CreateImportBatch(ctx context.Context, batch *models.ImportBatch) error {
	return r.conn(ctx).Create(batch).Error
}

// CreatePayments 批量创建付款
func (r *PaymentRepository) CreatePayments(ctx context.Context, payments []models.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	return r.conn(ctx).CreateInBatches(&payments, 100).Error
}

// UpdatePaymentIf 带状态条件的更新，并发修改时只有一个请求能命中
func (r *PaymentRepository) UpdatePaymentIf(ctx context.Context, id uint, allowed []models.PaymentStatus, changes map[string]interface{}) (bool, error) {
	res := r.conn(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, allowed).
		Updates(changes)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdatePayment 更新付款字段
func (r *PaymentRepository) UpdatePayment(ctx context.Context, id uint, changes map[string]interface{}) error {
	return r.conn(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(changes).Error
}

// SetInvoiceLock 设置发票及其全部明细行的锁定标记
func (r *PaymentRepository) SetInvoiceLock(ctx context.Context, invoiceID uint, locked bool) error {
	db := r.conn(ctx)
	if err := db.Model(&models.Invoice{}).Where("id = ?", invoiceID).Update("is_locked", locked).Error; err != nil {
		return err
	}
	return db.Model(&models.InvoiceLine{}).Where("invoice_id = ?", invoiceID).Update("is_locked", locked).Error
}

// CreateInvoice 创建发票，不级联创建明细行
func (r *PaymentRepository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.conn(ctx).Omit(clause.Associations).Create(invoice).Error
}

// UpdateInvoice 更新发票字段
func (r *PaymentRepository) UpdateInvoice(ctx context.Context, id uint, changes map[string]interface{}) error {
	return r.conn(ctx).Model(&models.Invoice{}).Where("id = ?", id).Updates(changes).Error
}

// DeleteInvoice 先删除明细行再删除发票
func (r *PaymentRepository) DeleteInvoice(ctx context.Context, id uint) error {
	db := r.conn(ctx)
	if err := db.Where("invoice_id = ?", id).Delete(&models.InvoiceLine{}).Error; err != nil {
		return err
	}
	return db.Delete(&models.Invoice{}, id).Error
}

// CreateInvoiceLine 创建明细行
func (r *PaymentRepository) CreateInvoiceLine(ctx context.Context, line *models.InvoiceLine) error {
	return r.conn(ctx).Create(line).Error
}

// NextLineNumber 返回发票下一个可用的行号
func (r *PaymentRepository) NextLineNumber(ctx context.Context, invoiceID uint) (int, error) {
	var max int
	err := r.conn(ctx).Model(&models.InvoiceLine{}).
		Select("COALESCE(MAX(line_number), 0)").
		Where("invoice_id = ?", invoiceID).
		Scan(&max).Error
	return max + 1, err
}

// lockPayment 对付款行加排他锁，SQLite驱动会忽略该子句
func lockPayment(db *gorm.DB, id uint) error {
	var locked models.Payment
	return db.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&locked, id).Error
}

func withTree(db *gorm.DB) *gorm.DB {
	return db.Preload("Invoices", orderBy("id")).Preload("Invoices.Lines", orderBy("line_number"))
}

func orderBy(column string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(column)
	}
}

// applyScope 把可见范围转换为查询条件
func applyScope(q *gorm.DB, scope models.PaymentScope) *gorm.DB {
	switch {
	case scope.All:
		return q
	case scope.TeamID != nil && scope.IncludeUnassigned:
		return q.Where("(assigned_team_id = ? OR assigned_team_id IS NULL)", *scope.TeamID)
	case scope.TeamID != nil:
		return q.Where("assigned_team_id = ?", *scope.TeamID)
	case scope.IncludeUnassigned:
		return q.Where("assigned_team_id IS NULL")
	default:
		return q.Where("1 = 0")
	}
}

func applyFilter(q *gorm.DB, filter models.PaymentFilter) *gorm.DB {
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.StartDate != nil {
		q = q.Where("payment_date >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		q = q.Where("payment_date <= ?", *filter.EndDate)
	}
	if filter.TeamID != nil {
		q = q.Where("assigned_team_id = ?", *filter.TeamID)
	}
	return q
}
