package services_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"payment_recon/database"
	"payment_recon/models"
	"payment_recon/repository"
	"payment_recon/services"
	"payment_recon/utils"
)

// recordingNotifier 记录收到的通知，可配置返回错误或panic
type recordingNotifier struct {
	mu      sync.Mutex
	notices []services.SubmissionNotice
	err     error
	panics  bool
}

func (n *recordingNotifier) NotifySubmission(_ context.Context, notice services.SubmissionNotice) error {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
	if n.panics {
		panic("notifier exploded")
	}
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type testEnv struct {
	db       *gorm.DB
	store    *repository.PaymentRepository
	audit    *services.AuditService
	notifier *recordingNotifier
	engine   *services.PaymentEngine

	teamA, teamB *models.SaleTeam

	admin      *models.User
	accounting *models.User
	leaderA    *models.User
	staffA     *models.User
	staffB     *models.User
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := openTestDB(t)
	env := &testEnv{
		db:       db,
		store:    repository.NewPaymentRepository(db),
		audit:    services.NewAuditService(db),
		notifier: &recordingNotifier{},
	}
	env.engine = services.NewPaymentEngine(env.store, env.audit, env.notifier)

	env.teamA = env.createTeam(t, "Team A")
	env.teamB = env.createTeam(t, "Team B")

	env.admin = env.createUser(t, "admin@example.com", models.RoleAdmin, nil)
	env.accounting = env.createUser(t, "accounting@example.com", models.RoleAccounting, nil)
	env.leaderA = env.createUser(t, "leader.a@example.com", models.RoleSaleLeader, env.teamA)
	env.staffA = env.createUser(t, "staff.a@example.com", models.RoleSaleStaff, env.teamA)
	env.staffB = env.createUser(t, "staff.b@example.com", models.RoleSaleStaff, env.teamB)
	return env
}

func (e *testEnv) createTeam(t *testing.T, name string) *models.SaleTeam {
	t.Helper()
	team := &models.SaleTeam{Name: name, IsActive: true}
	require.NoError(t, e.db.Create(team).Error)
	return team
}

// createUser 测试用户不需要登录，使用占位密码哈希避免bcrypt开销
func (e *testEnv) createUser(t *testing.T, email string, role models.Role, team *models.SaleTeam) *models.User {
	t.Helper()
	user := &models.User{Email: email, PasswordHash: "-", FullName: email, Role: role, IsActive: true}
	if team != nil {
		user.SaleTeamID = &team.ID
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *testEnv) createPayment(t *testing.T, amount string, team *models.SaleTeam, status models.PaymentStatus) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		PaymentNo:   utils.GeneratePaymentNo(time.Now()),
		BankAccount: "0011001234567",
		PaymentDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString(amount),
		Currency:    "VND",
		PayFrom:     "ACME Corp",
		Status:      status,
	}
	if team != nil {
		payment.AssignedTeamID = &team.ID
	}
	require.NoError(t, e.db.Create(payment).Error)
	return payment
}

// createInvoice 直接写库创建一张发票及一条明细行
func (e *testEnv) createInvoice(t *testing.T, payment *models.Payment, converted, note string) *models.Invoice {
	t.Helper()
	amount := decimal.RequireFromString(converted)
	invoice := &models.Invoice{
		PaymentID:       payment.ID,
		InvoiceNumber:   "INV-" + utils.GenerateRandomCode(6),
		Currency:        payment.Currency,
		TotalAmount:     amount,
		ConvertedAmount: amount,
		DiscrepancyNote: note,
	}
	require.NoError(t, e.db.Omit("Lines").Create(invoice).Error)

	line := &models.InvoiceLine{
		InvoiceID:  invoice.ID,
		LineNumber: 1,
		Quantity:   decimal.NewFromInt(1),
		UnitPrice:  amount,
	}
	line.ComputeTotals()
	require.NoError(t, e.db.Create(line).Error)
	return invoice
}

func (e *testEnv) reload(t *testing.T, id uint) *models.Payment {
	t.Helper()
	var payment models.Payment
	require.NoError(t, e.db.Preload("Invoices.Lines").First(&payment, id).Error)
	return &payment
}

func (e *testEnv) auditActions(t *testing.T, paymentNo string) []models.AuditAction {
	t.Helper()
	var rows []models.AuditLog
	require.NoError(t, e.db.Where("payment_no = ?", paymentNo).Order("performed_at ASC").Find(&rows).Error)
	actions := make([]models.AuditAction, 0, len(rows))
	for _, r := range rows {
		actions = append(actions, r.Action)
	}
	return actions
}

func (e *testEnv) countAudit(t *testing.T, action models.AuditAction) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.AuditLog{}).Where("action = ?", action).Count(&count).Error)
	return count
}

func requireKind(t *testing.T, err error, kind utils.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	var appErr *utils.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	require.Equal(t, kind, appErr.Kind, appErr.Message)
}
