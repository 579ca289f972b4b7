package services

import (
	"payment_recon/models"
)

// transitions 付款状态机，COMPLETED 为终态
var transitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusNew:       {models.PaymentStatusDraft, models.PaymentStatusSubmitted},
	models.PaymentStatusDraft:     {models.PaymentStatusSubmitted},
	models.PaymentStatusSubmitted: {models.PaymentStatusDraft, models.PaymentStatusCompleted},
	models.PaymentStatusCompleted: {},
}

// CanTransition 判断状态流转是否合法
func CanTransition(from, to models.PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// sourcesOf 返回可以流转到目标状态的全部来源状态，用作条件更新的守卫
func sourcesOf(to models.PaymentStatus) []models.PaymentStatus {
	var from []models.PaymentStatus
	for _, status := range []models.PaymentStatus{
		models.PaymentStatusNew,
		models.PaymentStatusDraft,
		models.PaymentStatusSubmitted,
		models.PaymentStatusCompleted,
	} {
		if CanTransition(status, to) {
			from = append(from, status)
		}
	}
	return from
}

func transitionLabel(from, to models.PaymentStatus) string {
	return string(from) + "->" + string(to)
}
