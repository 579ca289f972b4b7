package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment_recon/models"
	"payment_recon/services"
	"payment_recon/utils"
)

func requireAllLocked(t *testing.T, payment *models.Payment, locked bool) {
	t.Helper()
	require.NotEmpty(t, payment.Invoices)
	for _, inv := range payment.Invoices {
		assert.Equal(t, locked, inv.IsLocked, "invoice %d", inv.ID)
		for _, line := range inv.Lines {
			assert.Equal(t, locked, line.IsLocked, "line %d of invoice %d", line.ID, inv.ID)
		}
	}
}

func TestSubmitPaymentLocksTreeAndNotifiesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	env.createInvoice(t, payment, "1000", "")

	require.NoError(t, env.engine.SubmitPayment(ctx, payment.ID, env.staffA))

	got := env.reload(t, payment.ID)
	assert.Equal(t, models.PaymentStatusSubmitted, got.Status)
	require.NotNil(t, got.SubmittedByID)
	assert.Equal(t, env.staffA.ID, *got.SubmittedByID)
	assert.NotNil(t, got.SubmittedAt)
	requireAllLocked(t, got, true)

	assert.Equal(t, []models.AuditAction{models.AuditPaymentSubmitted}, env.auditActions(t, payment.PaymentNo))

	require.Equal(t, 1, env.notifier.count())
	notice := env.notifier.notices[0]
	assert.Equal(t, payment.PaymentNo, notice.PaymentNo)
	assert.Equal(t, "Team A", notice.TeamName)
	assert.Equal(t, 1, notice.InvoiceCount)
	assert.Equal(t, env.staffA.Email, notice.SubmittedBy)
	assert.True(t, notice.InvoiceTotal.Equal(payment.Amount))
}

func TestSubmitPaymentRejectsDiscrepancyWithoutNote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	env.createInvoice(t, payment, "800", "")

	err := env.engine.SubmitPayment(ctx, payment.ID, env.staffA)
	requireKind(t, err, utils.KindUnprocessable)

	got := env.reload(t, payment.ID)
	assert.Equal(t, models.PaymentStatusDraft, got.Status)
	requireAllLocked(t, got, false)
	assert.Empty(t, env.auditActions(t, payment.PaymentNo))
	assert.Zero(t, env.notifier.count())
}

func TestSubmitPaymentAcceptsDiscrepancyWithNote(t *testing.T) {
	env := newTestEnv(t)

	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	env.createInvoice(t, payment, "500", "")
	env.createInvoice(t, payment, "300", "bank fee deducted by customer")

	require.NoError(t, env.engine.SubmitPayment(context.Background(), payment.ID, env.staffA))
	assert.Equal(t, models.PaymentStatusSubmitted, env.reload(t, payment.ID).Status)
}

func TestSubmitPaymentTolerance(t *testing.T) {
	tests := []struct {
		name      string
		converted string
		wantErr   bool
	}{
		{"exact", "1000.00", false},
		{"one cent under", "999.99", false},
		{"one cent over", "1000.01", false},
		{"two cents under", "999.98", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			payment := env.createPayment(t, "1000.00", env.teamA, models.PaymentStatusDraft)
			env.createInvoice(t, payment, tt.converted, "")

			err := env.engine.SubmitPayment(context.Background(), payment.ID, env.staffA)
			if tt.wantErr {
				requireKind(t, err, utils.KindUnprocessable)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSubmitPaymentWithoutInvoices(t *testing.T) {
	env := newTestEnv(t)
	payment := env.createPayment(t, "0", env.teamA, models.PaymentStatusDraft)

	err := env.engine.SubmitPayment(context.Background(), payment.ID, env.staffA)
	requireKind(t, err, utils.KindUnprocessable)
	assert.Equal(t, models.PaymentStatusDraft, env.reload(t, payment.ID).Status)
}

func TestSubmitPaymentTwiceIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	env.createInvoice(t, payment, "1000", "")
	require.NoError(t, env.engine.SubmitPayment(ctx, payment.ID, env.staffA))

	for i := 0; i < 3; i++ {
		err := env.engine.SubmitPayment(ctx, payment.ID, env.admin)
		requireKind(t, err, utils.KindUnprocessable)
	}

	assert.Equal(t, int64(1), env.countAudit(t, models.AuditPaymentSubmitted))
	assert.Equal(t, 1, env.notifier.count())
}

func TestSubmitPaymentFromNew(t *testing.T) {
	env := newTestEnv(t)

	payment := env.createPayment(t, "250", nil, models.PaymentStatusNew)
	env.createInvoice(t, payment, "250", "")

	require.NoError(t, env.engine.SubmitPayment(context.Background(), payment.ID, env.accounting))
	assert.Equal(t, models.PaymentStatusSubmitted, env.reload(t, payment.ID).Status)
	assert.Equal(t, "", env.notifier.notices[0].TeamName)
}

func TestSubmitPaymentErrorKinds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payment := env.createPayment(t, "100", env.teamA, models.PaymentStatusDraft)
	env.createInvoice(t, payment, "100", "")

	requireKind(t, env.engine.SubmitPayment(ctx, 9999, env.admin), utils.KindNotFound)
	requireKind(t, env.engine.SubmitPayment(ctx, payment.ID, env.staffB), utils.KindForbidden)
	requireKind(t, env.engine.SubmitPayment(ctx, payment.ID, nil), utils.KindUnauthorized)

	inactive := *env.staffA
	inactive.IsActive = false
	requireKind(t, env.engine.SubmitPayment(ctx, payment.ID, &inactive), utils.KindUnauthorized)

	assert.Equal(t, models.PaymentStatusDraft, env.reload(t, payment.ID).Status)
}

func TestConcurrentSubmitOnlyOneWins(t *testing.T) {
	env := newTestEnv(t)

	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	env.createInvoice(t, payment, "600", "")
	env.createInvoice(t, payment, "400", "")

	const attempts = 2
	errs := make([]error, attempts)
	actors := []*models.User{env.staffA, env.leaderA}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = env.engine.SubmitPayment(context.Background(), payment.ID, actors[i])
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireKind(t, err, utils.KindUnprocessable)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(1), env.countAudit(t, models.AuditPaymentSubmitted))
	assert.Equal(t, 1, env.notifier.count())
	requireAllLocked(t, env.reload(t, payment.ID), true)
}

func TestNotifierFailureDoesNotFailSubmit(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		env := newTestEnv(t)
		env.notifier.err = errors.New("telegram down")

		payment := env.createPayment(t, "100", env.teamA, models.PaymentStatusDraft)
		env.createInvoice(t, payment, "100", "")

		require.NoError(t, env.engine.SubmitPayment(context.Background(), payment.ID, env.staffA))
		assert.Equal(t, models.PaymentStatusSubmitted, env.reload(t, payment.ID).Status)
		assert.Equal(t, 1, env.notifier.count())
	})

	t.Run("panic", func(t *testing.T) {
		env := newTestEnv(t)
		env.notifier.panics = true

		payment := env.createPayment(t, "100", env.teamA, models.PaymentStatusDraft)
		env.createInvoice(t, payment, "100", "")

		require.NoError(t, env.engine.SubmitPayment(context.Background(), payment.ID, env.staffA))
		assert.Equal(t, models.PaymentStatusSubmitted, env.reload(t, payment.ID).Status)
	})
}

func TestAuditFailureDoesNotRollBackSubmit(t *testing.T) {
	env := newTestEnv(t)

	payment := env.createPayment(t, "100", env.teamA, models.PaymentStatusDraft)
	env.createInvoice(t, payment, "100", "")

	require.NoError(t, env.db.Migrator().DropTable(&models.AuditLog{}))

	require.NoError(t, env.engine.SubmitPayment(context.Background(), payment.ID, env.staffA))

	got := env.reload(t, payment.ID)
	assert.Equal(t, models.PaymentStatusSubmitted, got.Status)
	requireAllLocked(t, got, true)
	assert.Equal(t, 1, env.notifier.count())
}

func TestUnlockPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	env.createInvoice(t, payment, "1000", "")
	require.NoError(t, env.engine.SubmitPayment(ctx, payment.ID, env.staffA))

	requireKind(t, env.engine.UnlockPayment(ctx, payment.ID, "correction", env.accounting), utils.KindForbidden)
	requireKind(t, env.engine.UnlockPayment(ctx, payment.ID, "correction", env.leaderA), utils.KindForbidden)
	requireKind(t, env.engine.UnlockPayment(ctx, payment.ID, "   ", env.admin), utils.KindUnprocessable)
	requireAllLocked(t, env.reload(t, payment.ID), true)

	require.NoError(t, env.engine.UnlockPayment(ctx, payment.ID, "correction", env.admin))

	got := env.reload(t, payment.ID)
	assert.Equal(t, models.PaymentStatusDraft, got.Status)
	assert.Equal(t, "correction", got.UnlockReason)
	require.NotNil(t, got.UnlockedByID)
	assert.Equal(t, env.admin.ID, *got.UnlockedByID)
	requireAllLocked(t, got, false)

	var logs []models.AuditLog
	require.NoError(t, env.db.Where("action = ?", models.AuditPaymentUnlocked).Find(&logs).Error)
	require.Len(t, logs, 1)
	var after map[string]interface{}
	require.NoError(t, json.Unmarshal(logs[0].NewValue, &after))
	assert.Equal(t, "correction", after["reason"])
	assert.Equal(t, string(models.PaymentStatusDraft), after["status"])

	// 只有已提交的付款可以解锁
	requireKind(t, env.engine.UnlockPayment(ctx, payment.ID, "again", env.admin), utils.KindUnprocessable)

	// 解锁后可以再次提交
	require.NoError(t, env.engine.SubmitPayment(ctx, payment.ID, env.staffA))
	requireAllLocked(t, env.reload(t, payment.ID), true)
}

func TestCompletePayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	env.createInvoice(t, payment, "1000", "")

	requireKind(t, env.engine.CompletePayment(ctx, payment.ID, env.accounting), utils.KindUnprocessable)

	require.NoError(t, env.engine.SubmitPayment(ctx, payment.ID, env.staffA))
	requireKind(t, env.engine.CompletePayment(ctx, payment.ID, env.staffA), utils.KindForbidden)
	require.NoError(t, env.engine.CompletePayment(ctx, payment.ID, env.accounting))

	got := env.reload(t, payment.ID)
	assert.Equal(t, models.PaymentStatusCompleted, got.Status)
	requireAllLocked(t, got, true)

	// 终态不能再流转
	requireKind(t, env.engine.UnlockPayment(ctx, payment.ID, "late fix", env.admin), utils.KindUnprocessable)
	requireKind(t, env.engine.SubmitPayment(ctx, payment.ID, env.admin), utils.KindUnprocessable)
	requireKind(t, env.engine.CompletePayment(ctx, payment.ID, env.admin), utils.KindUnprocessable)

	assert.Equal(t,
		[]models.AuditAction{models.AuditPaymentSubmitted, models.AuditPaymentCompleted},
		env.auditActions(t, payment.PaymentNo))
}

func TestAssignPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payment := env.createPayment(t, "1000", nil, models.PaymentStatusNew)

	_, err := env.engine.AssignPayment(ctx, payment.ID, env.teamB.ID, env.leaderA)
	requireKind(t, err, utils.KindForbidden)
	_, err = env.engine.AssignPayment(ctx, payment.ID, env.teamA.ID, env.staffA)
	requireKind(t, err, utils.KindForbidden)
	_, err = env.engine.AssignPayment(ctx, payment.ID, 9999, env.admin)
	requireKind(t, err, utils.KindNotFound)

	got, err := env.engine.AssignPayment(ctx, payment.ID, env.teamA.ID, env.leaderA)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusDraft, got.Status)
	require.NotNil(t, got.AssignedTeamID)
	assert.Equal(t, env.teamA.ID, *got.AssignedTeamID)
	require.NotNil(t, got.AssignedByID)
	assert.Equal(t, env.leaderA.ID, *got.AssignedByID)

	// 管理员可以重新分配到其他组，状态保持 DRAFT
	got, err = env.engine.AssignPayment(ctx, payment.ID, env.teamB.ID, env.admin)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusDraft, got.Status)
	assert.Equal(t, env.teamB.ID, *got.AssignedTeamID)

	// 组长已看不到分配给其他组的付款
	_, err = env.engine.AssignPayment(ctx, payment.ID, env.teamA.ID, env.leaderA)
	requireKind(t, err, utils.KindForbidden)

	assert.Equal(t, int64(2), env.countAudit(t, models.AuditPaymentAssigned))
}

func TestAssignSubmittedPaymentIsRejected(t *testing.T) {
	env := newTestEnv(t)

	payment := env.createPayment(t, "100", env.teamA, models.PaymentStatusSubmitted)
	_, err := env.engine.AssignPayment(context.Background(), payment.ID, env.teamB.ID, env.admin)
	requireKind(t, err, utils.KindUnprocessable)
}

func TestListPaymentsRespectsVisibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createPayment(t, "100", env.teamA, models.PaymentStatusDraft)
	env.createPayment(t, "200", env.teamB, models.PaymentStatusDraft)
	env.createPayment(t, "300", nil, models.PaymentStatusNew)

	tests := []struct {
		actor *models.User
		total int64
	}{
		{env.admin, 3},
		{env.accounting, 3},
		{env.leaderA, 2},
		{env.staffA, 1},
		{env.staffB, 1},
	}
	for _, tt := range tests {
		page, err := env.engine.ListPayments(ctx, models.PaymentFilter{}, tt.actor)
		require.NoError(t, err)
		assert.Equal(t, tt.total, page.Total, tt.actor.Email)
		assert.Len(t, page.Items, int(tt.total), tt.actor.Email)
	}

	page, err := env.engine.ListPayments(ctx, models.PaymentFilter{Status: models.PaymentStatusNew}, env.admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	_, err = env.engine.ListPayments(ctx, models.PaymentFilter{Status: "BOGUS"}, env.admin)
	requireKind(t, err, utils.KindUnprocessable)
}

func TestGetPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payment := env.createPayment(t, "100", env.teamA, models.PaymentStatusDraft)
	env.createInvoice(t, payment, "100", "")

	got, err := env.engine.GetPayment(ctx, payment.ID, env.staffA)
	require.NoError(t, err)
	require.Len(t, got.Invoices, 1)
	assert.Len(t, got.Invoices[0].Lines, 1)
	require.NotNil(t, got.AssignedTeam)
	assert.Equal(t, "Team A", got.AssignedTeam.Name)

	_, err = env.engine.GetPayment(ctx, payment.ID, env.staffB)
	requireKind(t, err, utils.KindForbidden)
	_, err = env.engine.GetPayment(ctx, 4242, env.admin)
	requireKind(t, err, utils.KindNotFound)
}

func TestCheckDiscrepancy(t *testing.T) {
	env := newTestEnv(t)
	payment := env.createPayment(t, "1000", env.teamA, models.PaymentStatusDraft)
	env.createInvoice(t, payment, "600", "")
	env.createInvoice(t, payment, "350", "  ")

	result := services.CheckDiscrepancy(env.reload(t, payment.ID))
	assert.Equal(t, "950", result.InvoiceTotal.String())
	assert.Equal(t, "50", result.Difference.String())
	assert.False(t, result.WithinTolerance())
	assert.False(t, result.Justified, "whitespace-only note is not a justification")
	assert.False(t, result.Passes())
}
