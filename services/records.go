package services

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payment_recon/models"
	"payment_recon/utils"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// PaymentUpdate 付款可修改的字段
type PaymentUpdate struct {
	Description *string `json:"description"`
}

// InvoiceInput 发票字段，修改时只更新非空字段
type InvoiceInput struct {
	InvoiceNumber   *string          `json:"invoice_number"`
	InvoiceDate     *string          `json:"invoice_date"` // YYYY-MM-DD
	CustomerName    *string          `json:"customer_name"`
	CustomerTaxCode *string          `json:"customer_tax_code"`
	Currency        *string          `json:"currency"`
	TotalAmount     *decimal.Decimal `json:"total_amount"`
	ConvertedAmount *decimal.Decimal `json:"converted_amount"`
	ExchangeRate    *decimal.Decimal `json:"exchange_rate"`
	DiscrepancyNote *string          `json:"discrepancy_note"`
	Lines           []LineInput      `json:"lines"` // 仅创建时使用
}

// LineInput 明细行字段
type LineInput struct {
	LineNumber  int              `json:"line_number"`
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TaxRate     *decimal.Decimal `json:"tax_rate"`
	TaxAmount   *decimal.Decimal `json:"tax_amount"`
}

// UpdatePayment 修改付款说明，已提交或已完成的付款只有管理员可以修改
func (e *PaymentEngine) UpdatePayment(ctx context.Context, paymentID uint, input PaymentUpdate, actor *models.User) (*models.Payment, error) {
	payment, err := e.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpEditPayment, Target{Payment: payment}); err != nil {
		return nil, err
	}
	if input.Description == nil {
		return payment, nil
	}

	err = e.store.Transaction(ctx, func(ctx context.Context, tx PaymentStore) error {
		current, err := tx.FindPaymentTree(ctx, paymentID, true)
		if err != nil {
			return e.storeError(err, "付款不存在")
		}
		if err := Authorize(actor, OpEditPayment, Target{Payment: current}); err != nil {
			return err
		}

		changes := editedBy(actor, e.now())
		changes["description"] = *input.Description
		if err := tx.UpdatePayment(ctx, paymentID, changes); err != nil {
			return utils.Internal(err)
		}

		e.audit.Record(ctx, AuditEntry{
			Action:     models.AuditPaymentUpdated,
			EntityType: models.EntityPayment,
			EntityID:   idString(current.ID),
			PaymentNo:  current.PaymentNo,
			Before:     map[string]interface{}{"description": current.Description},
			After:      map[string]interface{}{"description": *input.Description},
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return nil, e.txError(err)
	}

	return e.loadPayment(ctx, paymentID)
}

// CreateInvoice 在付款下新建发票，管理员在已提交的付款下新建的发票同样处于锁定状态
// 已提交或已完成的付款不允许非管理员新增发票；销售与组长只能为分配给本组的付款录入
func (e *PaymentEngine) CreateInvoice(ctx context.Context, paymentID uint, input InvoiceInput, actor *models.User) (*models.Invoice, error) {
	payment, err := e.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpCreateInvoice, Target{Payment: payment}); err != nil {
		return nil, err
	}

	invoice, err := buildInvoice(payment, input)
	if err != nil {
		return nil, err
	}
	lines, err := buildLines(input.Lines)
	if err != nil {
		return nil, err
	}

	err = e.store.Transaction(ctx, func(ctx context.Context, tx PaymentStore) error {
		current, err := tx.FindPaymentTree(ctx, paymentID, true)
		if err != nil {
			return e.storeError(err, "付款不存在")
		}
		if err := Authorize(actor, OpCreateInvoice, Target{Payment: current}); err != nil {
			return err
		}

		now := e.now()
		invoice.IsLocked = current.Status.Frozen()
		invoice.LastEditedByID = &actor.ID
		invoice.LastEditedAt = &now
		if err := tx.CreateInvoice(ctx, invoice); err != nil {
			return utils.Internal(err)
		}
		for i := range lines {
			lines[i].InvoiceID = invoice.ID
			lines[i].IsLocked = invoice.IsLocked
			if lines[i].LineNumber == 0 {
				lines[i].LineNumber = i + 1
			}
			if err := tx.CreateInvoiceLine(ctx, &lines[i]); err != nil {
				return utils.Internal(err)
			}
		}
		invoice.Lines = lines

		if err := tx.UpdatePayment(ctx, paymentID, editedBy(actor, now)); err != nil {
			return utils.Internal(err)
		}

		e.audit.Record(ctx, AuditEntry{
			Action:     models.AuditInvoiceCreated,
			EntityType: models.EntityInvoice,
			EntityID:   idString(invoice.ID),
			PaymentNo:  current.PaymentNo,
			After:      invoice,
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return nil, e.txError(err)
	}

	return invoice, nil
}

// UpdateInvoice 修改发票，锁定的发票只有管理员可以修改，锁定标记本身不可修改
func (e *PaymentEngine) UpdateInvoice(ctx context.Context, invoiceID uint, input InvoiceInput, actor *models.User) (*models.Invoice, error) {
	invoice, err := e.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpEditInvoice, Target{Payment: invoice.Payment, Invoice: invoice}); err != nil {
		return nil, err
	}

	changes, err := invoiceChanges(input)
	if err != nil {
		return nil, err
	}

	err = e.store.Transaction(ctx, func(ctx context.Context, tx PaymentStore) error {
		current, err := tx.FindInvoice(ctx, invoiceID, true)
		if err != nil {
			return e.storeError(err, "发票不存在")
		}
		if err := Authorize(actor, OpEditInvoice, Target{Payment: current.Payment, Invoice: current}); err != nil {
			return err
		}

		now := e.now()
		changes["last_edited_by_id"] = actor.ID
		changes["last_edited_at"] = now
		if err := tx.UpdateInvoice(ctx, invoiceID, changes); err != nil {
			return utils.Internal(err)
		}
		if err := tx.UpdatePayment(ctx, current.PaymentID, editedBy(actor, now)); err != nil {
			return utils.Internal(err)
		}

		after, err := tx.FindInvoice(ctx, invoiceID, false)
		if err != nil {
			return utils.Internal(err)
		}
		e.audit.Record(ctx, AuditEntry{
			Action:     models.AuditInvoiceUpdated,
			EntityType: models.EntityInvoice,
			EntityID:   idString(current.ID),
			PaymentNo:  current.Payment.PaymentNo,
			Before:     invoiceSnapshot(current),
			After:      invoiceSnapshot(after),
			ActorID:    &actor.ID,
		})
		invoice = after
		return nil
	})
	if err != nil {
		return nil, e.txError(err)
	}

	invoice.Payment = nil
	return invoice, nil
}

// DeleteInvoice 删除发票及其明细行，锁定的发票只有管理员可以删除
func (e *PaymentEngine) DeleteInvoice(ctx context.Context, invoiceID uint, actor *models.User) error {
	invoice, err := e.loadInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if err := Authorize(actor, OpEditInvoice, Target{Payment: invoice.Payment, Invoice: invoice}); err != nil {
		return err
	}

	err = e.store.Transaction(ctx, func(ctx context.Context, tx PaymentStore) error {
		current, err := tx.FindInvoice(ctx, invoiceID, true)
		if err != nil {
			return e.storeError(err, "发票不存在")
		}
		if err := Authorize(actor, OpEditInvoice, Target{Payment: current.Payment, Invoice: current}); err != nil {
			return err
		}

		if err := tx.DeleteInvoice(ctx, invoiceID); err != nil {
			return utils.Internal(err)
		}
		if err := tx.UpdatePayment(ctx, current.PaymentID, editedBy(actor, e.now())); err != nil {
			return utils.Internal(err)
		}

		e.audit.Record(ctx, AuditEntry{
			Action:     models.AuditInvoiceDeleted,
			EntityType: models.EntityInvoice,
			EntityID:   idString(current.ID),
			PaymentNo:  current.Payment.PaymentNo,
			Before:     invoiceSnapshot(current),
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return e.txError(err)
	}
	return nil
}

// AddInvoiceLine 为发票添加明细行，新行的锁定标记与发票一致
func (e *PaymentEngine) AddInvoiceLine(ctx context.Context, invoiceID uint, input LineInput, actor *models.User) (*models.InvoiceLine, error) {
	invoice, err := e.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OpEditInvoice, Target{Payment: invoice.Payment, Invoice: invoice}); err != nil {
		return nil, err
	}

	lines, err := buildLines([]LineInput{input})
	if err != nil {
		return nil, err
	}
	line := &lines[0]

	err = e.store.Transaction(ctx, func(ctx context.Context, tx PaymentStore) error {
		current, err := tx.FindInvoice(ctx, invoiceID, true)
		if err != nil {
			return e.storeError(err, "发票不存在")
		}
		if err := Authorize(actor, OpEditInvoice, Target{Payment: current.Payment, Invoice: current}); err != nil {
			return err
		}

		line.InvoiceID = invoiceID
		line.IsLocked = current.IsLocked
		if line.LineNumber == 0 {
			next, err := tx.NextLineNumber(ctx, invoiceID)
			if err != nil {
				return utils.Internal(err)
			}
			line.LineNumber = next
		}
		if err := tx.CreateInvoiceLine(ctx, line); err != nil {
			return utils.Internal(err)
		}

		now := e.now()
		if err := tx.UpdateInvoice(ctx, invoiceID, editedBy(actor, now)); err != nil {
			return utils.Internal(err)
		}
		if err := tx.UpdatePayment(ctx, current.PaymentID, editedBy(actor, now)); err != nil {
			return utils.Internal(err)
		}

		e.audit.Record(ctx, AuditEntry{
			Action:     models.AuditInvoiceLineAdded,
			EntityType: models.EntityInvoiceLine,
			EntityID:   idString(line.ID),
			PaymentNo:  current.Payment.PaymentNo,
			After:      line,
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return nil, e.txError(err)
	}

	return line, nil
}

func (e *PaymentEngine) loadInvoice(ctx context.Context, id uint) (*models.Invoice, error) {
	invoice, err := e.store.FindInvoice(ctx, id, false)
	if err != nil {
		return nil, e.storeError(err, "发票不存在")
	}
	return invoice, nil
}

func editedBy(actor *models.User, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"last_edited_by_id": actor.ID,
		"last_edited_at":    at,
	}
}

// invoiceSnapshot 审计快照不包含所属付款
func invoiceSnapshot(invoice *models.Invoice) models.Invoice {
	snapshot := *invoice
	snapshot.Payment = nil
	return snapshot
}

// buildInvoice 校验并构造新发票，币种默认取付款币种；未提供折算金额且币种相同时取发票金额
func buildInvoice(payment *models.Payment, input InvoiceInput) (*models.Invoice, error) {
	if input.InvoiceNumber == nil || strings.TrimSpace(*input.InvoiceNumber) == "" {
		return nil, utils.Unprocessable("发票号不能为空")
	}

	currency := payment.Currency
	if input.Currency != nil && strings.TrimSpace(*input.Currency) != "" {
		currency = strings.ToUpper(strings.TrimSpace(*input.Currency))
	}
	if !currencyPattern.MatchString(currency) {
		return nil, utils.Unprocessable("币种必须为3位字母代码")
	}

	invoice := &models.Invoice{
		PaymentID:     payment.ID,
		InvoiceNumber: strings.TrimSpace(*input.InvoiceNumber),
		Currency:      currency,
	}
	if input.InvoiceDate != nil && *input.InvoiceDate != "" {
		date, err := ParseDate(*input.InvoiceDate)
		if err != nil {
			return nil, utils.Unprocessable("开票日期格式错误")
		}
		invoice.InvoiceDate = &date
	}
	if input.CustomerName != nil {
		invoice.CustomerName = strings.TrimSpace(*input.CustomerName)
	}
	if input.CustomerTaxCode != nil {
		invoice.CustomerTaxCode = strings.TrimSpace(*input.CustomerTaxCode)
	}
	if input.TotalAmount != nil {
		invoice.TotalAmount = *input.TotalAmount
	}
	if input.ConvertedAmount != nil {
		invoice.ConvertedAmount = *input.ConvertedAmount
	} else if currency == payment.Currency {
		invoice.ConvertedAmount = invoice.TotalAmount
	}
	if input.ExchangeRate != nil {
		invoice.ExchangeRate = decimal.NewNullDecimal(*input.ExchangeRate)
	}
	if input.DiscrepancyNote != nil {
		invoice.DiscrepancyNote = strings.TrimSpace(*input.DiscrepancyNote)
	}
	if invoice.TotalAmount.IsNegative() || invoice.ConvertedAmount.IsNegative() {
		return nil, utils.Unprocessable("发票金额不能为负数")
	}
	return invoice, nil
}

// invoiceChanges 把修改请求转换为列更新
func invoiceChanges(input InvoiceInput) (map[string]interface{}, error) {
	changes := map[string]interface{}{}
	if input.InvoiceNumber != nil {
		number := strings.TrimSpace(*input.InvoiceNumber)
		if number == "" {
			return nil, utils.Unprocessable("发票号不能为空")
		}
		changes["invoice_number"] = number
	}
	if input.InvoiceDate != nil {
		if *input.InvoiceDate == "" {
			changes["invoice_date"] = nil
		} else {
			date, err := ParseDate(*input.InvoiceDate)
			if err != nil {
				return nil, utils.Unprocessable("开票日期格式错误")
			}
			changes["invoice_date"] = date
		}
	}
	if input.CustomerName != nil {
		changes["customer_name"] = strings.TrimSpace(*input.CustomerName)
	}
	if input.CustomerTaxCode != nil {
		changes["customer_tax_code"] = strings.TrimSpace(*input.CustomerTaxCode)
	}
	if input.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*input.Currency))
		if !currencyPattern.MatchString(currency) {
			return nil, utils.Unprocessable("币种必须为3位字母代码")
		}
		changes["currency"] = currency
	}
	if input.TotalAmount != nil {
		if input.TotalAmount.IsNegative() {
			return nil, utils.Unprocessable("发票金额不能为负数")
		}
		changes["total_amount"] = *input.TotalAmount
	}
	if input.ConvertedAmount != nil {
		if input.ConvertedAmount.IsNegative() {
			return nil, utils.Unprocessable("发票金额不能为负数")
		}
		changes["converted_amount"] = *input.ConvertedAmount
	}
	if input.ExchangeRate != nil {
		changes["exchange_rate"] = decimal.NewNullDecimal(*input.ExchangeRate)
	}
	if input.DiscrepancyNote != nil {
		changes["discrepancy_note"] = strings.TrimSpace(*input.DiscrepancyNote)
	}
	return changes, nil
}

// buildLines 校验明细行并计算行金额与税额
func buildLines(inputs []LineInput) ([]models.InvoiceLine, error) {
	lines := make([]models.InvoiceLine, 0, len(inputs))
	for _, in := range inputs {
		if !in.Quantity.IsPositive() {
			return nil, utils.Unprocessable("数量必须大于0")
		}
		if in.UnitPrice.IsNegative() {
			return nil, utils.Unprocessable("单价不能为负数")
		}
		line := models.InvoiceLine{
			LineNumber:  in.LineNumber,
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
		}
		if in.TaxRate != nil {
			line.TaxRate = decimal.NewNullDecimal(*in.TaxRate)
		}
		if in.TaxAmount != nil {
			line.TaxAmount = decimal.NewNullDecimal(*in.TaxAmount)
		}
		line.ComputeTotals()
		lines = append(lines, line)
	}
	return lines, nil
}
