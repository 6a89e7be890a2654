package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/billingd/internal/config"
	"github.com/set-night/billingd/internal/domain"
)

// MessageSender is satisfied by *bot.Bot.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramLogger posts operator alerts to a chat, one forum topic per alert
// type. It does nothing when no sender or chat is configured.
type TelegramLogger struct {
	sender MessageSender
	cfg    *config.Config
	logger *slog.Logger
}

func NewTelegramLogger(sender MessageSender, cfg *config.Config, logger *slog.Logger) *TelegramLogger {
	return &TelegramLogger{sender: sender, cfg: cfg, logger: logger}
}

type LogType string

const (
	LogTypeError LogType = "error"
	LogTypeBatch LogType = "batch"
)

func (l *TelegramLogger) Log(logType LogType, message string) {
	if l.sender == nil || l.cfg.AlertChatID == 0 {
		return
	}

	message = truncate(FixMarkdown(message), config.MaxTelegramMessageLen)

	ctx, cancel := context.WithTimeout(context.Background(), config.AlertTimeout)
	defer cancel()

	_, err := l.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          l.cfg.AlertChatID,
		Text:            message,
		ParseMode:       models.ParseModeMarkdownV1,
		MessageThreadID: l.getTopicID(logType),
	})
	if err != nil {
		l.logger.Error("failed to send telegram alert", "type", logType, "error", err)
	}
}

func (l *TelegramLogger) LogError(err error, context string) {
	msg := fmt.Sprintf("❌ *Error*\n\n*Context:* %s\n*Error:* `%s`\n*Time:* %s",
		EscapeMarkdown(context), err.Error(), time.Now().Format("2006-01-02 15:04:05"))
	l.Log(LogTypeError, msg)
}

// LogJobFailed reports a batch job that exhausted its attempts or failed
// permanently.
func (l *TelegramLogger) LogJobFailed(jobID string, req domain.BatchRequest, attempts int, err error) {
	msg := fmt.Sprintf("❌ *Batch Job Failed*\n\n*Job:* `%s`\n*Receipt book:* `%s`\n*Pendings:* %d\n*Attempts:* %d\n*Error:* `%s`",
		jobID, req.ReceiptBook, len(req.PendingIDs), attempts, err.Error())
	l.Log(LogTypeError, msg)
}

func (l *TelegramLogger) LogBatchProcessed(jobID string, req domain.BatchRequest, res domain.BatchResult) {
	msg := fmt.Sprintf("🧾 *Batch Processed*\n\n*Job:* `%s`\n*Batch:* `%d`\n*Receipt book:* `%s`\n*Issue date:* %s\n*Invoices:* %d",
		jobID, res.BatchID, req.ReceiptBook, req.IssueDate, res.InvoicesGenerated)
	l.Log(LogTypeBatch, msg)
}

func (l *TelegramLogger) getTopicID(logType LogType) int {
	switch logType {
	case LogTypeError:
		return l.cfg.AlertTopicError
	case LogTypeBatch:
		return l.cfg.AlertTopicBatch
	default:
		return 0
	}
}

func truncate(message string, maxLen int) string {
	runes := []rune(message)
	if len(runes) <= maxLen {
		return message
	}
	const suffix = "\n\n... (truncated)"
	cut := runes[:maxLen-len([]rune(suffix))]
	// Reclose inline code cut in half.
	if strings.Count(string(cut), "`")%2 != 0 {
		cut[len(cut)-1] = '`'
	}
	return string(cut) + suffix
}
