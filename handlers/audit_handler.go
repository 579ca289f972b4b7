package handlers

import (
	"github.com/gofiber/fiber/v2"

	"payment_recon/models"
	"payment_recon/services"
	"payment_recon/utils"
)

// ListAuditLogs 查询审计日志
// GET /api/audit-logs?payment_no=&entity_type=&action=&performed_by=&start_date=&end_date=&limit=&offset=
func (h *Handler) ListAuditLogs(c *fiber.Ctx) error {
	if err := services.Authorize(actor(c), services.OpViewAuditLogs, services.Target{}); err != nil {
		return err
	}

	var query models.AuditLogQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.BadRequest("无效的查询参数")
	}
	from, to, err := dateRange(query.StartDate, query.EndDate)
	if err != nil {
		return err
	}

	filter := models.AuditLogFilter{
		PaymentNo:  query.PaymentNo,
		EntityType: query.EntityType,
		Action:     models.AuditAction(query.Action),
		StartDate:  from,
		EndDate:    to,
		Limit:      query.Limit,
		Offset:     query.Offset,
	}
	if query.PerformedBy != 0 {
		performedBy := query.PerformedBy
		filter.PerformedBy = &performedBy
	}

	page, err := h.Audit.Query(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(page)
}
