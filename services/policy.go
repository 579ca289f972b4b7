// Package services 实现付款对账的业务逻辑
// 包含权限策略、付款生命周期、审计、通知、用户认证以及导入导出
package services

import (
	"payment_recon/models"
	"payment_recon/utils"
)

// Operation 受权限控制的操作
type Operation string

const (
	OpViewPayment     Operation = "view_payment"
	OpAssignPayment   Operation = "assign_payment"
	OpEditPayment     Operation = "edit_payment"
	OpSubmitPayment   Operation = "submit_payment"
	OpUnlockPayment   Operation = "unlock_payment"
	OpCompletePayment Operation = "complete_payment"
	OpCreateInvoice   Operation = "create_invoice"
	OpEditInvoice     Operation = "edit_invoice" // 修改、删除发票以及添加明细行
	OpImportPayments  Operation = "import_payments"
	OpExportPayments  Operation = "export_payments"
	OpViewAuditLogs   Operation = "view_audit_logs"
	OpManageUsers     Operation = "manage_users"
	OpManageTeams     Operation = "manage_teams"
)

// visibility 角色对付款的可见范围
type visibility int

const (
	seeNothing visibility = iota
	seeOwnTeam
	seeOwnTeamAndUnassigned
	seeAll
)

var visibilityByRole = map[models.Role]visibility{
	models.RoleAdmin:      seeAll,
	models.RoleAccounting: seeAll,
	models.RoleSaleLeader: seeOwnTeamAndUnassigned,
	models.RoleSaleStaff:  seeOwnTeam,
}

// rule 单个操作的授权条件
type rule struct {
	roles         []models.Role // 允许的角色
	needsAccess   bool          // 需要能看到目标付款
	lockGuarded   bool          // 目标锁定时只有管理员可以操作
	ownTeamOnly   bool          // 销售与组长只能操作已分配给本组的付款
	ownTeamTarget bool          // 销售与组长只能以本组为目标
}

var (
	allRoles        = []models.Role{models.RoleSaleStaff, models.RoleSaleLeader, models.RoleAccounting, models.RoleAdmin}
	financeRoles    = []models.Role{models.RoleAccounting, models.RoleAdmin}
	adminOnly       = []models.Role{models.RoleAdmin}
	leaderAndAdmins = []models.Role{models.RoleSaleLeader, models.RoleAdmin}
)

var policyTable = map[Operation]rule{
	OpViewPayment:     {roles: allRoles, needsAccess: true},
	OpAssignPayment:   {roles: leaderAndAdmins, needsAccess: true, ownTeamTarget: true},
	OpEditPayment:     {roles: allRoles, needsAccess: true, lockGuarded: true},
	OpSubmitPayment:   {roles: allRoles, needsAccess: true},
	OpUnlockPayment:   {roles: adminOnly},
	OpCompletePayment: {roles: financeRoles, needsAccess: true},
	OpCreateInvoice:   {roles: allRoles, needsAccess: true, lockGuarded: true, ownTeamOnly: true},
	OpEditInvoice:     {roles: allRoles, needsAccess: true, lockGuarded: true},
	OpImportPayments:  {roles: financeRoles},
	OpExportPayments:  {roles: allRoles},
	OpViewAuditLogs:   {roles: financeRoles},
	OpManageUsers:     {roles: adminOnly},
	OpManageTeams:     {roles: adminOnly},
}

// Target 授权判断的目标
type Target struct {
	Payment *models.Payment // 目标付款，发票操作时为发票所属付款
	Invoice *models.Invoice // 发票及明细行操作的目标发票
	TeamID  *uint           // 分配操作的目标销售组
}

// locked 发票操作看发票自身的锁定标记，付款操作看付款是否已提交或完成
func (t Target) locked() bool {
	if t.Invoice != nil {
		return t.Invoice.IsLocked
	}
	if t.Payment != nil {
		return t.Payment.Status.Frozen()
	}
	return false
}

// CanAccess 判断操作者能否看到该付款
func CanAccess(actor *models.User, payment *models.Payment) bool {
	if actor == nil || !actor.IsActive || payment == nil {
		return false
	}

	switch visibilityByRole[actor.Role] {
	case seeAll:
		return true
	case seeOwnTeamAndUnassigned:
		return payment.AssignedTeamID == nil || sameTeam(payment.AssignedTeamID, actor.SaleTeamID)
	case seeOwnTeam:
		return sameTeam(payment.AssignedTeamID, actor.SaleTeamID)
	default:
		return false
	}
}

// CanMutate 判断操作者能否对目标执行操作
func CanMutate(actor *models.User, op Operation, target Target) bool {
	return Authorize(actor, op, target) == nil
}

// Authorize 按策略表判断操作是否允许，不允许时返回 Unauthorized 或 Forbidden
// 纯函数，每次调用都重新计算
func Authorize(actor *models.User, op Operation, target Target) error {
	if actor == nil || !actor.IsActive {
		return utils.Unauthorized("未登录或账号已停用")
	}

	r, ok := policyTable[op]
	if !ok || !hasRole(r.roles, actor.Role) {
		return utils.Forbidden("当前角色无权执行该操作")
	}

	if r.needsAccess && !CanAccess(actor, target.Payment) {
		return utils.Forbidden("无权访问该付款")
	}

	if actor.Role.NeedsTeam() {
		if r.ownTeamOnly && (target.Payment == nil || !sameTeam(target.Payment.AssignedTeamID, actor.SaleTeamID)) {
			return utils.Forbidden("只能操作已分配给本组的付款")
		}
		if r.ownTeamTarget && !sameTeam(target.TeamID, actor.SaleTeamID) {
			return utils.Forbidden("只能分配给本组")
		}
	}

	if r.lockGuarded && actor.Role != models.RoleAdmin && target.locked() {
		return utils.Forbidden("记录已锁定，不能修改")
	}

	return nil
}

// ScopeFor 计算操作者的付款可见范围，供列表查询下推到数据库
func ScopeFor(actor *models.User) models.PaymentScope {
	if actor == nil || !actor.IsActive {
		return models.PaymentScope{}
	}

	switch visibilityByRole[actor.Role] {
	case seeAll:
		return models.PaymentScope{All: true}
	case seeOwnTeamAndUnassigned:
		return models.PaymentScope{TeamID: actor.SaleTeamID, IncludeUnassigned: true}
	case seeOwnTeam:
		return models.PaymentScope{TeamID: actor.SaleTeamID}
	default:
		return models.PaymentScope{}
	}
}

func hasRole(roles []models.Role, role models.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// sameTeam 两个销售组引用都非空且相等
func sameTeam(a, b *uint) bool {
	return a != nil && b != nil && *a == *b
}
