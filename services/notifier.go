package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"payment_recon/logger"
)

// SubmissionNotice 付款提交通知内容
type SubmissionNotice struct {
	PaymentNo    string
	TeamName     string
	Amount       decimal.Decimal
	InvoiceTotal decimal.Decimal
	Currency     string
	InvoiceCount int
	SubmittedBy  string
	SubmittedAt  time.Time
}

// Notifier 付款提交后的外部通知，尽力而为
type Notifier interface {
	NotifySubmission(ctx context.Context, notice SubmissionNotice) error
}

// NoopNotifier 未配置通知渠道时使用，只记日志
type NoopNotifier struct {
	log zerolog.Logger
}

// NewNoopNotifier 创建空通知
func NewNoopNotifier() *NoopNotifier {
	return &NoopNotifier{log: logger.WithComponent("notifier")}
}

// NotifySubmission 记录一条调试日志
func (n *NoopNotifier) NotifySubmission(_ context.Context, notice SubmissionNotice) error {
	n.log.Debug().Str("payment_no", notice.PaymentNo).Msg("未配置通知渠道，跳过提交通知")
	return nil
}

// TelegramConfig Telegram机器人配置
type TelegramConfig struct {
	APIBase  string
	BotToken string
	ChatID   string
	Location *time.Location
	Timeout  time.Duration
}

// TelegramNotifier 通过Telegram Bot API发送提交通知
type TelegramNotifier struct {
	cfg TelegramConfig
	log zerolog.Logger
}

// NewTelegramNotifier 创建Telegram通知
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TelegramNotifier{cfg: cfg, log: logger.WithComponent("telegram")}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// NotifySubmission 调用 sendMessage 接口
func (n *TelegramNotifier) NotifySubmission(ctx context.Context, notice SubmissionNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	url := strings.TrimRight(n.cfg.APIBase, "/") + "/bot" + n.cfg.BotToken + "/sendMessage"
	agent := fiber.Post(url).
		Timeout(n.cfg.Timeout).
		JSON(telegramMessage{
			ChatID:    n.cfg.ChatID,
			Text:      FormatSubmissionMessage(notice, n.cfg.Location),
			ParseMode: "Markdown",
		})

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("发送Telegram通知失败: %w", errs[0])
	}
	if code != fiber.StatusOK {
		return fmt.Errorf("Telegram接口返回 %d: %s", code, string(body))
	}

	n.log.Debug().Str("payment_no", notice.PaymentNo).Msg("Telegram通知已发送")
	return nil
}

var amountPrinter = message.NewPrinter(language.English)

func formatAmount(amount decimal.Decimal) string {
	return amountPrinter.Sprintf("%.2f", amount.InexactFloat64())
}

// FormatSubmissionMessage 生成提交通知文本
func FormatSubmissionMessage(notice SubmissionNotice, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	team := notice.TeamName
	if team == "" {
		team = "Unassigned"
	}

	lines := []string{
		"🔔 *Invoice Submission*",
		"",
		fmt.Sprintf("*Payment ID:* `%s`", notice.PaymentNo),
		fmt.Sprintf("*Assigned Team:* %s", team),
		fmt.Sprintf("*Received Amount:* %s %s", formatAmount(notice.Amount), notice.Currency),
		fmt.Sprintf("*Invoice Total:* %s %s", formatAmount(notice.InvoiceTotal), notice.Currency),
		fmt.Sprintf("*Number of Invoices:* %d", notice.InvoiceCount),
		fmt.Sprintf("*Submitted By:* %s", notice.SubmittedBy),
		fmt.Sprintf("*Time:* %s", notice.SubmittedAt.In(loc).Format("02/01/2006 15:04:05")),
	}
	return strings.Join(lines, "\n")
}
