package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"payment_recon/logger"
	"payment_recon/metrics"
	"payment_recon/models"
	"payment_recon/utils"
)

// PaymentEngine 付款生命周期引擎
// 先做只读的权限判断，再在单个事务内完成状态流转、级联锁定与审计，提交后发送通知
type PaymentEngine struct {
	store    PaymentStore
	audit    AuditRecorder
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewPaymentEngine 创建付款生命周期引擎
func NewPaymentEngine(store PaymentStore, audit AuditRecorder, notifier Notifier) *PaymentEngine {
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	return &PaymentEngine{
		store:    store,
		audit:    audit,
		notifier: notifier,
		log:      logger.WithComponent("payment_engine"),
		now:      time.Now,
	}
}

// AssignPayment 把付款分配给销售组，NEW 状态随之进入 DRAFT
func (e *PaymentEngine) AssignPayment(ctx context.Context, paymentID, teamID uint, actor *models.User) (*models.Payment, error) {
	payment, err := e.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	team, err := e.store.FindTeam(ctx, teamID)
	if err != nil {
		return nil, e.storeError(err, "销售组不存在")
	}

	if err := Authorize(actor, OpAssignPayment, Target{Payment: payment, TeamID: &team.ID}); err != nil {
		return nil, err
	}
	if !team.IsActive {
		return nil, utils.Unprocessable("销售组已停用")
	}
	if payment.Status.Frozen() {
		return nil, utils.Unprocessable("已提交或已完成的付款不能重新分配")
	}

	var from models.PaymentStatus
	err = e.store.Transaction(ctx, func(ctx context.Context, tx PaymentStore) error {
		current, err := tx.FindPaymentTree(ctx, paymentID, true)
		if err != nil {
			return e.storeError(err, "付款不存在")
		}
		if current.Status.Frozen() {
			return utils.Unprocessable("已提交或已完成的付款不能重新分配")
		}
		from = current.Status

		now := e.now()
		changes := map[string]interface{}{
			"assigned_team_id": team.ID,
			"assigned_by_id":   actor.ID,
			"assigned_at":      now,
		}
		to := current.Status
		if current.Status == models.PaymentStatusNew {
			to = models.PaymentStatusDraft
			changes["status"] = to
		}

		ok, err := tx.UpdatePaymentIf(ctx, paymentID, []models.PaymentStatus{models.PaymentStatusNew, models.PaymentStatusDraft}, changes)
		if err != nil {
			return utils.Internal(err)
		}
		if !ok {
			return utils.Unprocessable("已提交或已完成的付款不能重新分配")
		}

		e.audit.Record(ctx, AuditEntry{
			Action:     models.AuditPaymentAssigned,
			EntityType: models.EntityPayment,
			EntityID:   idString(current.ID),
			PaymentNo:  current.PaymentNo,
			Before:     map[string]interface{}{"status": current.Status, "assigned_team_id": current.AssignedTeamID},
			After:      map[string]interface{}{"status": to, "assigned_team_id": team.ID},
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return nil, e.txError(err)
	}

	if from == models.PaymentStatusNew {
		metrics.PaymentTransitions.WithLabelValues(transitionLabel(from, models.PaymentStatusDraft)).Inc()
	}
	e.log.Info().Str("payment_no", payment.PaymentNo).Uint("team_id", team.ID).Uint("actor_id", actor.ID).Msg("付款已分配")

	return e.loadPayment(ctx, paymentID)
}

// SubmitPayment 提交付款：校验发票与差额，锁定全部发票及明细行
func (e *PaymentEngine) SubmitPayment(ctx context.Context, paymentID uint, actor *models.User) error {
	payment, err := e.loadPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := Authorize(actor, OpSubmitPayment, Target{Payment: payment}); err != nil {
		return err
	}
	if !CanTransition(payment.Status, models.PaymentStatusSubmitted) {
		return utils.Unprocessable("付款已提交，不能重复提交")
	}

	var (
		notice SubmissionNotice
		from   models.PaymentStatus
	)
	err = e.store.Transaction(ctx, func(ctx context.Context, tx PaymentStore) error {
		current, err := tx.FindPaymentTree(ctx, paymentID, true)
		if err != nil {
			return e.storeError(err, "付款不存在")
		}
		if !CanTransition(current.Status, models.PaymentStatusSubmitted) {
			return utils.Unprocessable("付款已提交，不能重复提交")
		}
		if err := validateSubmission(current); err != nil {
			return err
		}
		from = current.Status

		now := e.now()
		ok, err := tx.UpdatePaymentIf(ctx, paymentID, sourcesOf(models.PaymentStatusSubmitted), map[string]interface{}{
			"status":          models.PaymentStatusSubmitted,
			"submitted_by_id": actor.ID,
			"submitted_at":    now,
		})
		if err != nil {
			return utils.Internal(err)
		}
		if !ok {
			return utils.Unprocessable("付款已提交，不能重复提交")
		}

		if err := cascadeLock(ctx, tx, current, true); err != nil {
			return utils.Internal(err)
		}

		result := CheckDiscrepancy(current)
		e.audit.Record(ctx, AuditEntry{
			Action:     models.AuditPaymentSubmitted,
			EntityType: models.EntityPayment,
			EntityID:   idString(current.ID),
			PaymentNo:  current.PaymentNo,
			Before:     map[string]interface{}{"status": current.Status},
			After: map[string]interface{}{
				"status":        models.PaymentStatusSubmitted,
				"invoice_count": len(current.Invoices),
				"invoice_total": result.InvoiceTotal,
				"difference":    result.Difference,
			},
			ActorID: &actor.ID,
		})

		notice = SubmissionNotice{
			PaymentNo:    current.PaymentNo,
			TeamName:     current.TeamName(),
			Amount:       current.Amount,
			InvoiceTotal: result.InvoiceTotal,
			Currency:     current.Currency,
			InvoiceCount: len(current.Invoices),
			SubmittedBy:  actor.Email,
			SubmittedAt:  now,
		}
		return nil
	})
	if err != nil {
		return e.txError(err)
	}

	metrics.PaymentTransitions.WithLabelValues(transitionLabel(from, models.PaymentStatusSubmitted)).Inc()
	e.log.Info().Str("payment_no", notice.PaymentNo).Uint("actor_id", actor.ID).Msg("付款已提交")

	e.notify(ctx, notice)
	return nil
}

// UnlockPayment 管理员解锁已提交的付款，退回 DRAFT 并解除全部发票及明细行的锁定
func (e *PaymentEngine) UnlockPayment(ctx context.Context, paymentID uint, reason string, actor *models.User) error {
	payment, err := e.loadPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := Authorize(actor, OpUnlockPayment, Target{Payment: payment}); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return utils.Unprocessable("解锁原因不能为空")
	}
	if payment.Status != models.PaymentStatusSubmitted {
		return utils.Unprocessable("只有已提交的付款可以解锁")
	}

	err = e.store.Transaction(ctx, func(ctx context.Context, tx PaymentStore) error {
		current, err := tx.FindPaymentTree(ctx, paymentID, true)
		if err != nil {
			return e.storeError(err, "付款不存在")
		}
		if current.Status != models.PaymentStatusSubmitted {
			return utils.Unprocessable("只有已提交的付款可以解锁")
		}

		now := e.now()
		ok, err := tx.UpdatePaymentIf(ctx, paymentID, []models.PaymentStatus{models.PaymentStatusSubmitted}, map[string]interface{}{
			"status":         models.PaymentStatusDraft,
			"unlocked_by_id": actor.ID,
			"unlocked_at":    now,
			"unlock_reason":  reason,
		})
		if err != nil {
			return utils.Internal(err)
		}
		if !ok {
			return utils.Unprocessable("只有已提交的付款可以解锁")
		}

		if err := cascadeLock(ctx, tx, current, false); err != nil {
			return utils.Internal(err)
		}

		e.audit.Record(ctx, AuditEntry{
			Action:     models.AuditPaymentUnlocked,
			EntityType: models.EntityPayment,
			EntityID:   idString(current.ID),
			PaymentNo:  current.PaymentNo,
			Before:     map[string]interface{}{"status": current.Status},
			After:      map[string]interface{}{"status": models.PaymentStatusDraft, "reason": reason},
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return e.txError(err)
	}

	metrics.PaymentTransitions.WithLabelValues(transitionLabel(models.PaymentStatusSubmitted, models.PaymentStatusDraft)).Inc()
	e.log.Info().Str("payment_no", payment.PaymentNo).Str("reason", reason).Uint("actor_id", actor.ID).Msg("付款已解锁")
	return nil
}

// CompletePayment 财务确认已提交的付款，只修改状态
func (e *PaymentEngine) CompletePayment(ctx context.Context, paymentID uint, actor *models.User) error {
	payment, err := e.loadPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := Authorize(actor, OpCompletePayment, Target{Payment: payment}); err != nil {
		return err
	}
	if !CanTransition(payment.Status, models.PaymentStatusCompleted) {
		return utils.Unprocessable("只有已提交的付款可以确认完成")
	}

	err = e.store.Transaction(ctx, func(ctx context.Context, tx PaymentStore) error {
		ok, err := tx.UpdatePaymentIf(ctx, paymentID, sourcesOf(models.PaymentStatusCompleted), map[string]interface{}{
			"status": models.PaymentStatusCompleted,
		})
		if err != nil {
			return utils.Internal(err)
		}
		if !ok {
			return utils.Unprocessable("只有已提交的付款可以确认完成")
		}

		e.audit.Record(ctx, AuditEntry{
			Action:     models.AuditPaymentCompleted,
			EntityType: models.EntityPayment,
			EntityID:   idString(payment.ID),
			PaymentNo:  payment.PaymentNo,
			Before:     map[string]interface{}{"status": models.PaymentStatusSubmitted},
			After:      map[string]interface{}{"status": models.PaymentStatusCompleted},
			ActorID:    &actor.ID,
		})
		return nil
	})
	if err != nil {
		return e.txError(err)
	}

	metrics.PaymentTransitions.WithLabelValues(transitionLabel(models.PaymentStatusSubmitted, models.PaymentStatusCompleted)).Inc()
	e.log.Info().Str("payment_no", payment.PaymentNo).Uint("actor_id", actor.ID).Msg("付款已确认完成")
	return nil
}

// cascadeLock 在同一事务内把付款下所有发票及明细行设置为同一锁定状态
func cascadeLock(ctx context.Context, tx PaymentStore, payment *models.Payment, locked bool) error {
	for i := range payment.Invoices {
		invoice := &payment.Invoices[i]
		if err := tx.SetInvoiceLock(ctx, invoice.ID, locked); err != nil {
			return fmt.Errorf("设置发票 %d 锁定状态失败: %w", invoice.ID, err)
		}
		invoice.IsLocked = locked
		for j := range invoice.Lines {
			invoice.Lines[j].IsLocked = locked
		}
	}
	return nil
}

// notify 事务提交后发送通知，失败只记日志
func (e *PaymentEngine) notify(ctx context.Context, notice SubmissionNotice) {
	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationFailures.WithLabelValues("submission").Inc()
			e.log.Error().Interface("panic", r).Str("payment_no", notice.PaymentNo).Msg("发送提交通知时发生panic")
		}
	}()

	if err := e.notifier.NotifySubmission(ctx, notice); err != nil {
		metrics.NotificationFailures.WithLabelValues("submission").Inc()
		e.log.Warn().Err(err).Str("payment_no", notice.PaymentNo).Msg("发送提交通知失败")
	}
}

func (e *PaymentEngine) loadPayment(ctx context.Context, id uint) (*models.Payment, error) {
	payment, err := e.store.FindPayment(ctx, id)
	if err != nil {
		return nil, e.storeError(err, "付款不存在")
	}
	return payment, nil
}

// storeError 记录不存在转为 NotFound，其余转为内部错误
func (e *PaymentEngine) storeError(err error, notFoundMsg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.NotFound(notFoundMsg)
	}
	return utils.Internal(err)
}

// txError 事务返回的业务错误原样返回，其余错误记录日志后转为内部错误
func (e *PaymentEngine) txError(err error) error {
	appErr := utils.AsAppError(err)
	if appErr.Kind == utils.KindInternal {
		e.log.Error().Err(err).Msg("付款事务失败，已回滚")
	}
	return appErr
}

func idString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
