package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"demo-chatter/internal/conversation"
)

// DailyStats summarises one day of conversation activity.
type DailyStats struct {
	Date                string                       `json:"date"`
	TotalMessages       int                          `json:"total_messages"`
	UserMessages        int                          `json:"user_messages"`
	AssistantMessages   int                          `json:"assistant_messages"`
	NewConversations    int                          `json:"new_conversations"`
	ActiveConversations int                          `json:"active_conversations"`
	ConversationStats   map[string]ConversationStats `json:"conversation_stats"`
}

// ConversationStats counts one conversation's messages within the day.
type ConversationStats struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	UserMessages      int    `json:"user_messages"`
	AssistantMessages int    `json:"assistant_messages"`
}

// AnalyzeDay counts messages whose timestamp falls on targetDate's calendar day.
func AnalyzeDay(convs []conversation.Conversation, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)
	inDay := func(t time.Time) bool {
		return !t.Before(startOfDay) && t.Before(endOfDay)
	}

	stats := &DailyStats{
		Date:              startOfDay.Format("2006-01-02"),
		ConversationStats: make(map[string]ConversationStats),
	}

	for _, c := range convs {
		if inDay(c.CreatedAt) {
			stats.NewConversations++
		}
		cs := ConversationStats{ID: c.ID, Title: c.Title}
		for _, m := range c.Messages {
			if !inDay(m.Timestamp) {
				continue
			}
			stats.TotalMessages++
			switch m.Role {
			case conversation.RoleUser:
				stats.UserMessages++
				cs.UserMessages++
			case conversation.RoleAssistant:
				stats.AssistantMessages++
				cs.AssistantMessages++
			}
		}
		if cs.UserMessages+cs.AssistantMessages > 0 {
			stats.ConversationStats[c.ID] = cs
		}
	}

	stats.ActiveConversations = len(stats.ConversationStats)
	return stats
}

// GenerateReportSummary renders the stats as a short plain-text report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation activity for %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Messages: %d (user %d, assistant %d)\n", ds.TotalMessages, ds.UserMessages, ds.AssistantMessages)
	fmt.Fprintf(&b, "- New conversations: %d\n", ds.NewConversations)
	fmt.Fprintf(&b, "- Active conversations: %d\n", ds.ActiveConversations)

	if len(ds.ConversationStats) == 0 {
		return b.String()
	}

	ids := make([]string, 0, len(ds.ConversationStats))
	for id := range ds.ConversationStats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, c := ds.ConversationStats[ids[i]], ds.ConversationStats[ids[j]]
		if a.UserMessages != c.UserMessages {
			return a.UserMessages > c.UserMessages
		}
		return a.ID < c.ID
	})

	b.WriteString("\nBy conversation:\n")
	for _, id := range ids {
		cs := ds.ConversationStats[id]
		fmt.Fprintf(&b, "- %q: %d user, %d assistant\n", cs.Title, cs.UserMessages, cs.AssistantMessages)
	}
	return b.String()
}

// ToJSON renders the stats as indented JSON.
func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
