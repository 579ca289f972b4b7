package services

import (
	"github.com/shopspring/decimal"

	"payment_recon/models"
	"payment_recon/utils"
)

// DiscrepancyTolerance 发票折算金额合计与到账金额允许的最大差额
var DiscrepancyTolerance = decimal.RequireFromString("0.01")

// DiscrepancyResult 提交时的对账结果
type DiscrepancyResult struct {
	PaymentAmount decimal.Decimal
	InvoiceTotal  decimal.Decimal
	Difference    decimal.Decimal // 绝对差额
	Justified     bool            // 至少一张发票填写了差额说明
}

// WithinTolerance 差额是否在容差范围内
func (r DiscrepancyResult) WithinTolerance() bool {
	return r.Difference.LessThanOrEqual(DiscrepancyTolerance)
}

// Passes 差额在容差内，或者有差额说明
func (r DiscrepancyResult) Passes() bool {
	return r.WithinTolerance() || r.Justified
}

// CheckDiscrepancy 计算付款与其发票的对账结果，调用方需已加载发票
func CheckDiscrepancy(payment *models.Payment) DiscrepancyResult {
	total := payment.InvoiceTotal()

	justified := false
	for i := range payment.Invoices {
		if payment.Invoices[i].HasDiscrepancyNote() {
			justified = true
			break
		}
	}

	return DiscrepancyResult{
		PaymentAmount: payment.Amount,
		InvoiceTotal:  total,
		Difference:    payment.Amount.Sub(total).Abs(),
		Justified:     justified,
	}
}

// validateSubmission 校验付款能否提交：至少一张发票，且对账通过
func validateSubmission(payment *models.Payment) error {
	if len(payment.Invoices) == 0 {
		return utils.Unprocessable("付款下没有发票，不能提交")
	}
	if !CheckDiscrepancy(payment).Passes() {
		return utils.Unprocessable("发票折算金额合计与到账金额不一致，请填写差额说明")
	}
	return nil
}
