package services_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment_recon/models"
	"payment_recon/services"
	"payment_recon/utils"
)

func strPtr(v string) *string { return &v }

func decPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func invoiceInput(number, total string) services.InvoiceInput {
	return services.InvoiceInput{
		InvoiceNumber: strPtr(number),
		InvoiceDate:   strPtr("2024-03-10"),
		CustomerName:  strPtr("  ACME Corp  "),
		TotalAmount:   decPtr(total),
		Lines: []services.LineInput{
			{Description: "Consulting", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("150.75"), TaxRate: decPtr("10")},
			{Description: "Travel", Quantity: decimal.RequireFromString("1.5"), UnitPrice: decimal.NewFromInt(100)},
		},
	}
}

func TestCreateInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payment := env.createPayment(t, "451", env.teamA, models.PaymentStatusDraft)

	invoice, err := env.engine.CreateInvoice(ctx, payment.ID, invoiceInput("INV-001", "451"), env.staffA)
	require.NoError(t, err)

	assert.Equal(t, "INV-001", invoice.InvoiceNumber)
	assert.Equal(t, "ACME Corp", invoice.CustomerName)
	assert.Equal(t, "VND", invoice.Currency)
	assert.True(t, invoice.ConvertedAmount.Equal(decimal.NewFromInt(451)), "converted defaults to total in the payment currency")
	assert.False(t, invoice.IsLocked)
	require.NotNil(t, invoice.InvoiceDate)
	assert.Equal(t, "2024-03-10", invoice.InvoiceDate.Format("2006-01-02"))

	require.Len(t, invoice.Lines, 2)
	assert.Equal(t, 1, invoice.Lines[0].LineNumber)
	assert.Equal(t, "301.5", invoice.Lines[0].LineTotal.String())
	require.True(t, invoice.Lines[0].TaxAmount.Valid)
	assert.Equal(t, "30.15", invoice.Lines[0].TaxAmount.Decimal.String())
	assert.Equal(t, 2, invoice.Lines[1].LineNumber)
	assert.Equal(t, "150", invoice.Lines[1].LineTotal.String())
	assert.False(t, invoice.Lines[1].TaxAmount.Valid)

	got := env.reload(t, payment.ID)
	require.Len(t, got.Invoices, 1)
	assert.Len(t, got.Invoices[0].Lines, 2)
	require.NotNil(t, got.LastEditedByID)
	assert.Equal(t, env.staffA.ID, *got.LastEditedByID)
	assert.Equal(t, []models.AuditAction{models.AuditInvoiceCreated}, env.auditActions(t, payment.PaymentNo))
}

func TestCreateInvoicePermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unassigned := env.createPayment(t, "100", nil, models.PaymentStatusNew)
	submitted := env.createPayment(t, "100", env.teamA, models.PaymentStatusSubmitted)
	otherTeam := env.createPayment(t, "100", env.teamB, models.PaymentStatusDraft)

	_, err := env.engine.CreateInvoice(ctx, unassigned.ID, invoiceInput("INV-1", "100"), env.staffA)
	requireKind(t, err, utils.KindForbidden)
	_, err = env.engine.CreateInvoice(ctx, unassigned.ID, invoiceInput("INV-1", "100"), env.leaderA)
	requireKind(t, err, utils.KindForbidden)
	_, err = env.engine.CreateInvoice(ctx, otherTeam.ID, invoiceInput("INV-1", "100"), env.staffA)
	requireKind(t, err, utils.KindForbidden)
	_, err = env.engine.CreateInvoice(ctx, submitted.ID, invoiceInput("INV-1", "100"), env.staffA)
	requireKind(t, err, utils.KindForbidden)
	_, err = env.engine.CreateInvoice(ctx, 9999, invoiceInput("INV-1", "100"), env.admin)
	requireKind(t, err, utils.KindNotFound)

	_, err = env.engine.CreateInvoice(ctx, unassigned.ID, invoiceInput("INV-1", "100"), env.accounting)
	require.NoError(t, err)

	invoice, err := env.engine.CreateInvoice(ctx, submitted.ID, invoiceInput("INV-2", "100"), env.admin)
	require.NoError(t, err)
	assert.True(t, invoice.IsLocked, "invoices under a submitted payment stay locked")
	requireAllLocked(t, env.reload(t, submitted.ID), true)
}

func TestCreateInvoiceValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payment := env.createPayment(t, "100", env.teamA, models.PaymentStatusDraft)

	tests := []struct {
		name  string
		input services.InvoiceInput
	}{
		{"missing number", services.InvoiceInput{InvoiceNumber: strPtr("  ")}},
		{"bad currency", services.InvoiceInput{InvoiceNumber: strPtr("INV-1"), Currency: strPtr("dollars")}},
		{"negative total", services.InvoiceInput{InvoiceNumber: strPtr("INV-1"), TotalAmount: decPtr("-1")}},
		{"bad date", services.InvoiceInput{InvoiceNumber: strPtr("INV-1"), InvoiceDate: strPtr("10/03/2024")}},
		{"zero quantity", services.InvoiceInput{InvoiceNumber: strPtr("INV-1"), Lines: []services.LineInput{{Quantity: decimal.Zero}}}},
		{"negative price", services.InvoiceInput{InvoiceNumber: strPtr("INV-1"), Lines: []services.LineInput{{Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(-5)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.CreateInvoice(ctx, payment.ID, tt.input, env.staffA)
			requireKind(t, err, utils.KindUnprocessable)
		})
	}

	assert.Empty(t, env.reload(t, payment.ID).Invoices)
}

func TestCreateInvoiceForeignCurrency(t *testing.T) {
	env := newTestEnv(t)
	payment := env.createPayment(t, "2500000", env.teamA, models.PaymentStatusDraft)

	invoice, err := env.engine.CreateInvoice(context.Background(), payment.ID, services.InvoiceInput{
		InvoiceNumber: strPtr("INV-USD"),
		Currency:      strPtr("usd"),
		TotalAmount:   decPtr("100"),
		ExchangeRate:  decPtr("25000"),
	}, env.staffA)
	require.NoError(t, err)
	assert.Equal(t, "USD", invoice.Currency)
	assert.True(t, invoice.ConvertedAmount.IsZero(), "converted amount is not guessed across currencies")
	assert.True(t, invoice.ExchangeRate.Valid)
}

func TestUpdateInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	invoice := env.createInvoice(t, payment, "800", "")

	updated, err := env.engine.UpdateInvoice(ctx, invoice.ID, services.InvoiceInput{
		ConvertedAmount: decPtr("1000"),
		DiscrepancyNote: strPtr("  rounded  "),
	}, env.staffA)
	require.NoError(t, err)
	assert.True(t, updated.ConvertedAmount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "rounded", updated.DiscrepancyNote)
	assert.Nil(t, updated.Payment)
	require.NotNil(t, updated.LastEditedByID)
	assert.Equal(t, env.staffA.ID, *updated.LastEditedByID)

	_, err = env.engine.UpdateInvoice(ctx, invoice.ID, services.InvoiceInput{Currency: strPtr("X1")}, env.staffA)
	requireKind(t, err, utils.KindUnprocessable)
	_, err = env.engine.UpdateInvoice(ctx, invoice.ID, services.InvoiceInput{CustomerName: strPtr("B")}, env.staffB)
	requireKind(t, err, utils.KindForbidden)
	_, err = env.engine.UpdateInvoice(ctx, 9999, services.InvoiceInput{}, env.admin)
	requireKind(t, err, utils.KindNotFound)

	var logs []models.AuditLog
	require.NoError(t, env.db.Where("action = ?", models.AuditInvoiceUpdated).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Contains(t, string(logs[0].OldValue), `"discrepancy_note":""`)
	assert.Contains(t, string(logs[0].NewValue), `"discrepancy_note":"rounded"`)
}

func TestLockedInvoiceOnlyAdminCanEdit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	invoice := env.createInvoice(t, payment, "1000", "")
	require.NoError(t, env.engine.SubmitPayment(ctx, payment.ID, env.staffA))

	for _, actor := range []*models.User{env.staffA, env.leaderA, env.accounting} {
		_, err := env.engine.UpdateInvoice(ctx, invoice.ID, services.InvoiceInput{CustomerName: strPtr("X")}, actor)
		requireKind(t, err, utils.KindForbidden)
		requireKind(t, env.engine.DeleteInvoice(ctx, invoice.ID, actor), utils.KindForbidden)
		_, err = env.engine.AddInvoiceLine(ctx, invoice.ID, services.LineInput{Quantity: decimal.NewFromInt(1)}, actor)
		requireKind(t, err, utils.KindForbidden)
	}
	_, err := env.engine.UpdatePayment(ctx, payment.ID, services.PaymentUpdate{Description: strPtr("x")}, env.staffA)
	requireKind(t, err, utils.KindForbidden)

	updated, err := env.engine.UpdateInvoice(ctx, invoice.ID, services.InvoiceInput{CustomerName: strPtr("Fixed by admin")}, env.admin)
	require.NoError(t, err)
	assert.Equal(t, "Fixed by admin", updated.CustomerName)
	assert.True(t, updated.IsLocked, "admin edits never change the lock flag")

	line, err := env.engine.AddInvoiceLine(ctx, invoice.ID, services.LineInput{
		Description: "Adjustment",
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   decimal.NewFromInt(5),
	}, env.admin)
	require.NoError(t, err)
	assert.True(t, line.IsLocked)
	assert.Equal(t, 2, line.LineNumber)

	got := env.reload(t, payment.ID)
	assert.Equal(t, models.PaymentStatusSubmitted, got.Status)
	requireAllLocked(t, got, true)
}

func TestAddInvoiceLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	invoice := env.createInvoice(t, payment, "1000", "")

	line, err := env.engine.AddInvoiceLine(ctx, invoice.ID, services.LineInput{
		Description: "Extra",
		Quantity:    decimal.NewFromInt(3),
		UnitPrice:   decimal.RequireFromString("9.99"),
		TaxAmount:   decPtr("1.5"),
	}, env.staffA)
	require.NoError(t, err)
	assert.False(t, line.IsLocked)
	assert.Equal(t, 2, line.LineNumber)
	assert.Equal(t, "29.97", line.LineTotal.String())
	assert.Equal(t, "1.5", line.TaxAmount.Decimal.String())

	explicit, err := env.engine.AddInvoiceLine(ctx, invoice.ID, services.LineInput{
		LineNumber: 10,
		Quantity:   decimal.NewFromInt(1),
	}, env.staffA)
	require.NoError(t, err)
	assert.Equal(t, 10, explicit.LineNumber)

	_, err = env.engine.AddInvoiceLine(ctx, invoice.ID, services.LineInput{Quantity: decimal.NewFromInt(-1)}, env.staffA)
	requireKind(t, err, utils.KindUnprocessable)

	assert.Equal(t, int64(2), env.countAudit(t, models.AuditInvoiceLineAdded))
}

func TestDeleteInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	keep := env.createInvoice(t, payment, "600", "")
	drop := env.createInvoice(t, payment, "400", "")

	requireKind(t, env.engine.DeleteInvoice(ctx, drop.ID, env.staffB), utils.KindForbidden)
	require.NoError(t, env.engine.DeleteInvoice(ctx, drop.ID, env.staffA))
	requireKind(t, env.engine.DeleteInvoice(ctx, drop.ID, env.staffA), utils.KindNotFound)

	got := env.reload(t, payment.ID)
	require.Len(t, got.Invoices, 1)
	assert.Equal(t, keep.ID, got.Invoices[0].ID)

	var orphanLines int64
	require.NoError(t, env.db.Model(&models.InvoiceLine{}).Where("invoice_id = ?", drop.ID).Count(&orphanLines).Error)
	assert.Zero(t, orphanLines)
	assert.Equal(t, int64(1), env.countAudit(t, models.AuditInvoiceDeleted))
}

func TestUpdatePayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)

	got, err := env.engine.UpdatePayment(ctx, payment.ID, services.PaymentUpdate{Description: strPtr("March retainer")}, env.staffA)
	require.NoError(t, err)
	assert.Equal(t, "March retainer", got.Description)
	require.NotNil(t, got.LastEditedByID)
	assert.Equal(t, env.staffA.ID, *got.LastEditedByID)

	_, err = env.engine.UpdatePayment(ctx, payment.ID, services.PaymentUpdate{Description: strPtr("x")}, env.staffB)
	requireKind(t, err, utils.KindForbidden)

	unchanged, err := env.engine.UpdatePayment(ctx, payment.ID, services.PaymentUpdate{}, env.staffA)
	require.NoError(t, err)
	assert.Equal(t, "March retainer", unchanged.Description)
	assert.Equal(t, int64(1), env.countAudit(t, models.AuditPaymentUpdated))
}
