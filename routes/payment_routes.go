package routes

import (
	"github.com/gofiber/fiber/v2"

	"payment_recon/handlers"
	"payment_recon/middleware"
	"payment_recon/models"
)

// SetupPaymentRoutes 设置付款与发票路由
// 细粒度的可见范围与锁定判断在服务层完成
func SetupPaymentRoutes(api fiber.Router, h *handlers.Handler, auth fiber.Handler) {
	payments := api.Group("/payments", auth)

	// 静态路径必须在 /:id 之前注册
	payments.Get("/", h.ListPayments)
	payments.Get("/export", h.ExportPayments)
	payments.Post("/import", middleware.RequireRole(models.RoleAccounting, models.RoleAdmin), h.ImportPayments)

	payments.Get("/:id", h.GetPayment)
	payments.Put("/:id", h.UpdatePayment)
	payments.Get("/:id/audit-logs", h.PaymentAuditLogs)
	payments.Post("/:id/assign", h.AssignPayment)
	payments.Post("/:id/submit", h.SubmitPayment)
	payments.Post("/:id/unlock", h.UnlockPayment)
	payments.Post("/:id/complete", h.CompletePayment)
	payments.Post("/:id/invoices", h.CreateInvoice)

	invoices := api.Group("/invoices", auth)
	invoices.Put("/:id", h.UpdateInvoice)
	invoices.Delete("/:id", h.DeleteInvoice)
	invoices.Post("/:id/lines", h.AddInvoiceLine)
}

// SetupAuditRoutes 设置审计日志路由
func SetupAuditRoutes(api fiber.Router, h *handlers.Handler, auth fiber.Handler) {
	api.Get("/audit-logs", auth, h.ListAuditLogs)
}
