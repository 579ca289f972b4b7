package handlers

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"payment_recon/models"
	"payment_recon/services"
	"payment_recon/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AssignRequest 分配请求
type AssignRequest struct {
	TeamID uint `json:"team_id"`
}

// UnlockRequest 解锁请求
type UnlockRequest struct {
	Reason string `json:"reason"`
}

// paymentFilter 把查询参数转换为筛选条件
func paymentFilter(c *fiber.Ctx) (models.PaymentFilter, error) {
	var query models.PaymentQuery
	if err := c.QueryParser(&query); err != nil {
		return models.PaymentFilter{}, utils.BadRequest("无效的查询参数")
	}

	from, to, err := dateRange(query.StartDate, query.EndDate)
	if err != nil {
		return models.PaymentFilter{}, err
	}

	filter := models.PaymentFilter{
		Status:    models.PaymentStatus(strings.ToUpper(query.Status)),
		StartDate: from,
		EndDate:   to,
		Limit:     query.Limit,
		Offset:    query.Offset,
	}
	if query.TeamID != 0 {
		teamID := query.TeamID
		filter.TeamID = &teamID
	}
	return filter, nil
}

// ListPayments 按可见范围查询付款
// GET /api/payments?status=&start_date=&end_date=&team_id=&limit=&offset=
func (h *Handler) ListPayments(c *fiber.Ctx) error {
	filter, err := paymentFilter(c)
	if err != nil {
		return err
	}

	page, err := h.Engine.ListPayments(c.UserContext(), filter, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// GetPayment 付款详情，包含发票与明细行
// GET /api/payments/:id
func (h *Handler) GetPayment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	payment, err := h.Engine.GetPayment(c.UserContext(), id, actor(c))
	if err != nil {
		return err
	}

	result := services.CheckDiscrepancy(payment)
	return c.JSON(fiber.Map{
		"payment": payment,
		"reconciliation": fiber.Map{
			"invoice_total":    result.InvoiceTotal,
			"difference":       result.Difference,
			"within_tolerance": result.WithinTolerance(),
			"justified":        result.Justified,
		},
	})
}

// UpdatePayment 修改付款说明
// PUT /api/payments/:id
func (h *Handler) UpdatePayment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var input services.PaymentUpdate
	if err := bindJSON(c, &input); err != nil {
		return err
	}

	payment, err := h.Engine.UpdatePayment(c.UserContext(), id, input, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(payment)
}

// AssignPayment 分配付款给销售组
// POST /api/payments/:id/assign
func (h *Handler) AssignPayment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req AssignRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.TeamID == 0 {
		return utils.BadRequest("必须指定销售组")
	}

	payment, err := h.Engine.AssignPayment(c.UserContext(), id, req.TeamID, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(payment)
}

// SubmitPayment 提交付款
// POST /api/payments/:id/submit
func (h *Handler) SubmitPayment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.Engine.SubmitPayment(c.UserContext(), id, actor(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "付款已提交", "status": models.PaymentStatusSubmitted})
}

// UnlockPayment 管理员解锁付款
// POST /api/payments/:id/unlock
func (h *Handler) UnlockPayment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req UnlockRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	if err := h.Engine.UnlockPayment(c.UserContext(), id, req.Reason, actor(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "付款已解锁", "status": models.PaymentStatusDraft})
}

// CompletePayment 财务确认付款
// POST /api/payments/:id/complete
func (h *Handler) CompletePayment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.Engine.CompletePayment(c.UserContext(), id, actor(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "付款已确认完成", "status": models.PaymentStatusCompleted})
}

// CreateInvoice 在付款下新建发票
// POST /api/payments/:id/invoices
func (h *Handler) CreateInvoice(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var input services.InvoiceInput
	if err := bindJSON(c, &input); err != nil {
		return err
	}

	invoice, err := h.Engine.CreateInvoice(c.UserContext(), id, input, actor(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(invoice)
}

// PaymentAuditLogs 单笔付款的审计轨迹，能看到付款即可查看
// GET /api/payments/:id/audit-logs
func (h *Handler) PaymentAuditLogs(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	payment, err := h.Engine.GetPayment(c.UserContext(), id, actor(c))
	if err != nil {
		return err
	}

	page, err := h.Audit.Query(c.UserContext(), models.AuditLogFilter{
		PaymentNo: payment.PaymentNo,
		Limit:     c.QueryInt("limit"),
		Offset:    c.QueryInt("offset"),
	})
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// ImportPayments 上传银行流水xlsx
// POST /api/payments/import  (multipart, 字段 file)
func (h *Handler) ImportPayments(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.BadRequest("请上传文件")
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".xlsx") {
		return utils.Unprocessable("只支持.xlsx文件")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return utils.Internal(err)
	}
	defer file.Close()

	result, err := h.Import.ImportPayments(c.UserContext(), fileHeader.Filename, file, actor(c))
	if err != nil {
		if result == nil {
			return err
		}
		appErr := utils.AsAppError(err)
		return c.Status(appErr.Code).JSON(fiber.Map{
			"error":  appErr.Message,
			"kind":   appErr.Kind,
			"result": result,
		})
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// ExportPayments 按可见范围导出付款
// GET /api/payments/export
func (h *Handler) ExportPayments(c *fiber.Ctx) error {
	filter, err := paymentFilter(c)
	if err != nil {
		return err
	}
	filter.Limit = 0

	buf, err := h.Export.ExportPayments(c.UserContext(), filter, actor(c))
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Attachment(services.ExportFilename(time.Now()))
	return c.Send(buf.Bytes())
}
