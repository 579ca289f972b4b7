package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"payment_recon/logger"
	"payment_recon/models"
	"payment_recon/utils"
)

const exportSheet = "Payments"

var exportHeader = []interface{}{
	"Payment ID", "Bank Account", "Payment Date", "Amount", "Currency", "Pay From", "Status", "Assigned Team",
	"Invoice Number", "Invoice Date", "Customer", "Invoice Currency", "Invoice Total", "Converted Amount",
	"Discrepancy Note", "Line No", "Line Description", "Quantity", "Unit Price", "Line Total", "Tax Amount",
}

// ExportService 按可见范围导出付款、发票与明细行
type ExportService struct {
	store PaymentStore
	audit AuditRecorder
	log   zerolog.Logger
}

// NewExportService 创建导出服务
func NewExportService(store PaymentStore, audit AuditRecorder) *ExportService {
	return &ExportService{store: store, audit: audit, log: logger.WithComponent("export")}
}

// ExportPayments 生成xlsx，每条明细行一行；没有发票或明细行的付款、发票也各占一行
func (s *ExportService) ExportPayments(ctx context.Context, filter models.PaymentFilter, actor *models.User) (*bytes.Buffer, error) {
	if err := Authorize(actor, OpExportPayments, Target{}); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, utils.Unprocessable("无效的付款状态")
	}

	payments, err := s.store.ListPaymentTrees(ctx, ScopeFor(actor), filter)
	if err != nil {
		return nil, utils.Internal(err)
	}

	buf, rows, err := buildWorkbook(payments)
	if err != nil {
		return nil, utils.Internal(fmt.Errorf("生成导出文件失败: %w", err))
	}

	after := map[string]interface{}{"payments": len(payments), "rows": rows}
	if filter.Status != "" {
		after["status"] = filter.Status
	}
	if filter.TeamID != nil {
		after["team_id"] = *filter.TeamID
	}
	s.audit.Record(ctx, AuditEntry{
		Action:     models.AuditExportRequested,
		EntityType: models.EntityPayment,
		After:      after,
		ActorID:    &actor.ID,
	})
	s.log.Info().Uint("actor_id", actor.ID).Int("payments", len(payments)).Msg("付款已导出")

	return buf, nil
}

// buildWorkbook 写入工作簿，返回数据行数
func buildWorkbook(payments []models.Payment) (*bytes.Buffer, int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, 0, err
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return nil, 0, err
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(exportSheet, 1, 1, style)
	}

	row := 1
	write := func(values []interface{}) error {
		row++
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		return f.SetSheetRow(exportSheet, cell, &values)
	}

	for i := range payments {
		p := &payments[i]
		team := p.TeamName()
		if team == "" {
			team = "Unassigned"
		}
		base := []interface{}{
			p.PaymentNo, p.BankAccount, p.PaymentDate.Format("2006-01-02"), p.Amount.InexactFloat64(),
			p.Currency, p.PayFrom, string(p.Status), team,
		}
		if len(p.Invoices) == 0 {
			if err := write(base); err != nil {
				return nil, 0, err
			}
			continue
		}

		for j := range p.Invoices {
			inv := &p.Invoices[j]
			invoiceDate := ""
			if inv.InvoiceDate != nil {
				invoiceDate = inv.InvoiceDate.Format("2006-01-02")
			}
			withInvoice := append(append([]interface{}{}, base...),
				inv.InvoiceNumber, invoiceDate, inv.CustomerName, inv.Currency,
				inv.TotalAmount.InexactFloat64(), inv.ConvertedAmount.InexactFloat64(), inv.DiscrepancyNote,
			)
			if len(inv.Lines) == 0 {
				if err := write(withInvoice); err != nil {
					return nil, 0, err
				}
				continue
			}

			for k := range inv.Lines {
				line := &inv.Lines[k]
				var tax interface{}
				if line.TaxAmount.Valid {
					tax = line.TaxAmount.Decimal.InexactFloat64()
				}
				values := append(append([]interface{}{}, withInvoice...),
					line.LineNumber, line.Description, line.Quantity.InexactFloat64(),
					line.UnitPrice.InexactFloat64(), line.LineTotal.InexactFloat64(), tax,
				)
				if err := write(values); err != nil {
					return nil, 0, err
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, err
	}
	return buf, row - 1, nil
}

// ExportFilename 导出文件名
func ExportFilename(at time.Time) string {
	return "payments_" + at.Format("20060102_150405") + ".xlsx"
}
