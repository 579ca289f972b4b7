package utils

import (
	"crypto/rand"
	mathrand "math/rand"
	"time"
)

// 字符集常量
const (
	charset         = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	passwordCharset = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#$%"
)

// randomFrom 从给定字符集中生成指定长度的随机串
func randomFrom(alphabet string, length int) string {
	code := make([]byte, length)

	_, err := rand.Read(code)
	if err != nil {
		// 安全随机数生成失败时回退到伪随机
		r := mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
		for i := range code {
			code[i] = alphabet[r.Intn(len(alphabet))]
		}
		return string(code)
	}

	for i := range code {
		code[i] = alphabet[int(code[i])%len(alphabet)]
	}

	return string(code)
}

// GenerateRandomCode 生成指定长度的大写字母数字码
func GenerateRandomCode(length int) string {
	return randomFrom(charset, length)
}

// GeneratePaymentNo 生成付款编号，格式 PAY-YYYYMM-XXXXXX
func GeneratePaymentNo(at time.Time) string {
	return "PAY-" + at.Format("200601") + "-" + GenerateRandomCode(6)
}

// GenerateTempPassword 生成12位临时密码
func GenerateTempPassword() string {
	return randomFrom(passwordCharset, 12)
}
