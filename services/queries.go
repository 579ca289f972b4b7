package services

import (
	"context"
	"time"

	"payment_recon/models"
	"payment_recon/utils"
)

const (
	defaultPaymentLimit = 50
	maxPaymentLimit     = 200
)

// GetPayment 获取付款及其发票、明细行
func (e *PaymentEngine) GetPayment(ctx context.Context, paymentID uint, actor *models.User) (*models.Payment, error) {
	payment, err := e.store.FindPaymentTree(ctx, paymentID, false)
	if err != nil {
		return nil, e.storeError(err, "付款不存在")
	}
	if err := Authorize(actor, OpViewPayment, Target{Payment: payment}); err != nil {
		return nil, err
	}
	return payment, nil
}

// ListPayments 按操作者可见范围分页查询付款
func (e *PaymentEngine) ListPayments(ctx context.Context, filter models.PaymentFilter, actor *models.User) (models.Page[models.Payment], error) {
	var page models.Page[models.Payment]
	if actor == nil || !actor.IsActive {
		return page, utils.Unauthorized("未登录或账号已停用")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return page, utils.Unprocessable("无效的付款状态")
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultPaymentLimit
	}
	if filter.Limit > maxPaymentLimit {
		filter.Limit = maxPaymentLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	items, total, err := e.store.ListPayments(ctx, ScopeFor(actor), filter)
	if err != nil {
		return page, utils.Internal(err)
	}
	page.Items = items
	page.Total = total
	return page, nil
}

// ParseDate 解析 YYYY-MM-DD 或 RFC3339 格式的日期
func ParseDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
