package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"

	"payment_recon/logger"
	"payment_recon/models"
	"payment_recon/utils"
)

// 银行流水表头
const (
	colBankAccount = "bank account"
	colPaymentDate = "payment date"
	colAmount      = "amount"
	colCurrency    = "currency"
	colPayFrom     = "pay from"
	colDescription = "payment description"
)

var requiredColumns = []string{colBankAccount, colPaymentDate, colAmount, colCurrency}

// RowError 单行导入错误，Row 为表格中的行号
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult 导入结果
type ImportResult struct {
	BatchID        uint       `json:"batch_id,omitempty"`
	TotalRows      int        `json:"total_rows"`
	SuccessfulRows int        `json:"successful_rows"`
	FailedRows     int        `json:"failed_rows"`
	Errors         []RowError `json:"errors"`
}

// ImportService 导入银行流水生成付款
type ImportService struct {
	store PaymentStore
	audit AuditRecorder
	log   zerolog.Logger
	now   func() time.Time
}

// NewImportService 创建导入服务
func NewImportService(store PaymentStore, audit AuditRecorder) *ImportService {
	return &ImportService{
		store: store,
		audit: audit,
		log:   logger.WithComponent("import"),
		now:   time.Now,
	}
}

// ImportPayments 读取xlsx第一个工作表，有效行与批次记录在同一事务内写入
// 文件无法解析或没有任何有效行时返回422，并记录 IMPORT_FAILED
func (s *ImportService) ImportPayments(ctx context.Context, filename string, r io.Reader, actor *models.User) (*ImportResult, error) {
	if err := Authorize(actor, OpImportPayments, Target{}); err != nil {
		return nil, err
	}

	rows, err := readSheet(r)
	if err != nil {
		s.recordFailure(ctx, filename, actor, err.Error(), nil)
		return nil, utils.Unprocessable("无法读取导入文件，请上传有效的xlsx文件")
	}

	payments, result, err := s.parseRows(rows)
	if err != nil {
		s.recordFailure(ctx, filename, actor, err.Error(), nil)
		return nil, utils.Unprocessable(err.Error())
	}
	if len(payments) == 0 {
		s.recordFailure(ctx, filename, actor, "没有可导入的有效行", result)
		return result, utils.Unprocessable("没有可导入的有效行")
	}

	errorLog, _ := json.Marshal(result.Errors)
	batch := &models.ImportBatch{
		Filename:       filename,
		ImportedByID:   actor.ID,
		TotalRows:      result.TotalRows,
		SuccessfulRows: result.SuccessfulRows,
		FailedRows:     result.FailedRows,
		ErrorLog:       datatypes.JSON(errorLog),
	}

	err = s.store.Transaction(ctx, func(ctx context.Context, tx PaymentStore) error {
		if err := tx.CreateImportBatch(ctx, batch); err != nil {
			return utils.Internal(fmt.Errorf("创建导入批次失败: %w", err))
		}
		for i := range payments {
			payments[i].ImportBatchID = &batch.ID
		}
		if err := tx.CreatePayments(ctx, payments); err != nil {
			return utils.Internal(fmt.Errorf("写入付款失败: %w", err))
		}

		s.audit.Record(ctx, AuditEntry{
			Action:     models.AuditImportCompleted,
			EntityType: models.EntityImportBatch,
			EntityID:   idString(batch.ID),
			After: map[string]interface{}{
				"filename":        filename,
				"total_rows":      result.TotalRows,
				"successful_rows": result.SuccessfulRows,
				"failed_rows":     result.FailedRows,
			},
			ActorID: &actor.ID,
		})
		return nil
	})
	if err != nil {
		appErr := utils.AsAppError(err)
		s.log.Error().Err(err).Str("filename", filename).Msg("导入事务失败，已回滚")
		s.recordFailure(ctx, filename, actor, appErr.Message, result)
		return nil, appErr
	}

	result.BatchID = batch.ID
	s.log.Info().
		Uint("batch_id", batch.ID).
		Int("successful_rows", result.SuccessfulRows).
		Int("failed_rows", result.FailedRows).
		Msg("银行流水导入完成")
	return result, nil
}

func (s *ImportService) recordFailure(ctx context.Context, filename string, actor *models.User, reason string, result *ImportResult) {
	after := map[string]interface{}{"filename": filename, "reason": reason}
	if result != nil {
		after["total_rows"] = result.TotalRows
		after["errors"] = result.Errors
	}
	s.audit.Record(ctx, AuditEntry{
		Action:     models.AuditImportFailed,
		EntityType: models.EntityImportBatch,
		After:      after,
		ActorID:    &actor.ID,
	})
	s.log.Warn().Str("filename", filename).Str("reason", reason).Msg("银行流水导入失败")
}

// readSheet 读取第一个工作表的原始单元格值
func readSheet(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("文件中没有工作表")
	}
	return f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
}

// parseRows 解析表头与数据行，返回有效的付款和逐行错误
func (s *ImportService) parseRows(rows [][]string) ([]models.Payment, *ImportResult, error) {
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("文件为空")
	}

	columns := make(map[string]int)
	for i, name := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, nil, fmt.Errorf("缺少必需的列: %s", name)
		}
	}

	result := &ImportResult{Errors: make([]RowError, 0)}
	payments := make([]models.Payment, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		result.TotalRows++

		rowNum := i + 2
		payment, err := s.parseRow(row, columns)
		if err != nil {
			result.FailedRows++
			result.Errors = append(result.Errors, RowError{Row: rowNum, Message: err.Error()})
			continue
		}
		payments = append(payments, *payment)
		result.SuccessfulRows++
	}
	return payments, result, nil
}

func (s *ImportService) parseRow(row []string, columns map[string]int) (*models.Payment, error) {
	cell := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	bankAccount := cell(colBankAccount)
	if bankAccount == "" {
		return nil, fmt.Errorf("银行账号不能为空")
	}

	date, err := parseSheetDate(cell(colPaymentDate))
	if err != nil {
		return nil, fmt.Errorf("到账日期格式错误: %s", cell(colPaymentDate))
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(cell(colAmount), ",", ""))
	if err != nil {
		return nil, fmt.Errorf("金额格式错误: %s", cell(colAmount))
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("金额必须大于0")
	}

	currency := strings.ToUpper(cell(colCurrency))
	if !currencyPattern.MatchString(currency) {
		return nil, fmt.Errorf("币种必须为3位字母代码: %s", cell(colCurrency))
	}

	return &models.Payment{
		PaymentNo:   utils.GeneratePaymentNo(s.now()),
		BankAccount: bankAccount,
		PaymentDate: date,
		Amount:      amount.Round(2),
		Currency:    currency,
		PayFrom:     cell(colPayFrom),
		Description: cell(colDescription),
		Status:      models.PaymentStatusNew,
	}, nil
}

// parseSheetDate 支持Excel日期序列号、YYYY-MM-DD、DD/MM/YYYY 与 RFC3339
func parseSheetDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("日期为空")
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		return excelize.ExcelDateToTime(serial, false)
	}
	if t, err := time.Parse("02/01/2006", value); err == nil {
		return t, nil
	}
	return ParseDate(value)
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
