package handlers

import (
	"github.com/gofiber/fiber/v2"

	"payment_recon/services"
)

// UpdateInvoice 修改发票
// PUT /api/invoices/:id
func (h *Handler) UpdateInvoice(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var input services.InvoiceInput
	if err := bindJSON(c, &input); err != nil {
		return err
	}

	invoice, err := h.Engine.UpdateInvoice(c.UserContext(), id, input, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(invoice)
}

// DeleteInvoice 删除发票
// DELETE /api/invoices/:id
func (h *Handler) DeleteInvoice(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.Engine.DeleteInvoice(c.UserContext(), id, actor(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "发票已删除"})
}

// AddInvoiceLine 添加明细行
// POST /api/invoices/:id/lines
func (h *Handler) AddInvoiceLine(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var input services.LineInput
	if err := bindJSON(c, &input); err != nil {
		return err
	}

	line, err := h.Engine.AddInvoiceLine(c.UserContext(), id, input, actor(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(line)
}
