package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment_recon/services"
)

var ict = time.FixedZone("ICT", 7*60*60)

func sampleNotice() services.SubmissionNotice {
	return services.SubmissionNotice{
		PaymentNo:    "PAY-202403-ABC123",
		TeamName:     "Team A",
		Amount:       decimal.RequireFromString("950"),
		InvoiceTotal: decimal.RequireFromString("949.99"),
		Currency:     "VND",
		InvoiceCount: 2,
		SubmittedBy:  "staff.a@example.com",
		SubmittedAt:  time.Date(2024, 3, 15, 3, 4, 5, 0, time.UTC),
	}
}

func TestFormatSubmissionMessage(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)

	g.Assert(t, "submission_message", []byte(services.FormatSubmissionMessage(sampleNotice(), ict)))

	unassigned := services.SubmissionNotice{
		PaymentNo:    "PAY-202403-XYZ789",
		Amount:       decimal.RequireFromString("120.5"),
		Currency:     "USD",
		SubmittedBy:  "admin@example.com",
		SubmittedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		InvoiceTotal: decimal.Zero,
	}
	g.Assert(t, "submission_message_unassigned", []byte(services.FormatSubmissionMessage(unassigned, nil)))
}

func TestTelegramNotifierSendsMessage(t *testing.T) {
	var received struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}
	var path string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	notifier := services.NewTelegramNotifier(services.TelegramConfig{
		APIBase:  server.URL + "/",
		BotToken: "123:abc",
		ChatID:   "-100200",
		Location: ict,
		Timeout:  2 * time.Second,
	})

	require.NoError(t, notifier.NotifySubmission(context.Background(), sampleNotice()))
	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "-100200", received.ChatID)
	assert.Equal(t, "Markdown", received.ParseMode)
	assert.Equal(t, services.FormatSubmissionMessage(sampleNotice(), ict), received.Text)
}

func TestTelegramNotifierReportsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	notifier := services.NewTelegramNotifier(services.TelegramConfig{APIBase: server.URL, BotToken: "t", ChatID: "c"})
	err := notifier.NotifySubmission(context.Background(), sampleNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, notifier.NotifySubmission(ctx, sampleNotice()), context.Canceled)
}

func TestNoopNotifier(t *testing.T) {
	assert.NoError(t, services.NewNoopNotifier().NotifySubmission(context.Background(), sampleNotice()))
}
