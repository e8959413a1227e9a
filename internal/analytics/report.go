package analytics

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"demo-chatter/internal/conversation"
)

// NewDailyReport returns a job that logs the stats of the day now() falls on.
func NewDailyReport(source func() []conversation.Conversation, logger *log.Logger, now func() time.Time) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats := AnalyzeDay(source(), now())
		logger.Info("daily usage report",
			"date", stats.Date,
			"messages", stats.TotalMessages,
			"new_conversations", stats.NewConversations,
			"active_conversations", stats.ActiveConversations,
		)
		logger.Debug(stats.GenerateReportSummary())
		return nil
	}
}
