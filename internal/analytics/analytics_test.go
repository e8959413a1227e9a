package analytics

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"demo-chatter/internal/conversation"
)

func msg(role conversation.Role, content string, ts time.Time) conversation.Message {
	return conversation.NewMessage(role, content, ts)
}

func TestAnalyzeDay(t *testing.T) {
	testDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	a := conversation.Conversation{
		ID:        "a",
		Title:     "hello",
		CreatedAt: testDate.Add(time.Hour),
		Messages: []conversation.Message{
			msg(conversation.RoleUser, "hello", testDate.Add(2*time.Hour)),
			msg(conversation.RoleAssistant, "hi", testDate.Add(2*time.Hour+time.Second)),
			msg(conversation.RoleUser, "code please", testDate.Add(3*time.Hour)),
			msg(conversation.RoleAssistant, "```go```", testDate.Add(3*time.Hour+time.Second)),
		},
	}
	b := conversation.Conversation{
		ID:        "b",
		Title:     "old",
		CreatedAt: testDate.AddDate(0, 0, -1),
		Messages: []conversation.Message{
			// previous day, not counted
			msg(conversation.RoleUser, "yesterday", testDate.Add(-time.Hour)),
			msg(conversation.RoleUser, "today", testDate.Add(5*time.Hour)),
		},
	}
	c := conversation.Conversation{
		ID:        "c",
		Title:     "tomorrow",
		CreatedAt: testDate.AddDate(0, 0, 1),
		Messages: []conversation.Message{
			msg(conversation.RoleUser, "tomorrow", testDate.AddDate(0, 0, 1)),
		},
	}

	stats := AnalyzeDay([]conversation.Conversation{a, b, c}, testDate.Add(12*time.Hour))

	if stats.Date != "2024-01-15" {
		t.Errorf("Expected date '2024-01-15', got '%s'", stats.Date)
	}
	if stats.TotalMessages != 5 {
		t.Errorf("Expected 5 messages, got %d", stats.TotalMessages)
	}
	if stats.UserMessages != 3 || stats.AssistantMessages != 2 {
		t.Errorf("Unexpected split: user=%d assistant=%d", stats.UserMessages, stats.AssistantMessages)
	}
	if stats.NewConversations != 1 {
		t.Errorf("Expected 1 new conversation, got %d", stats.NewConversations)
	}
	if stats.ActiveConversations != 2 {
		t.Errorf("Expected 2 active conversations, got %d", stats.ActiveConversations)
	}
	if got := stats.ConversationStats["a"]; got.UserMessages != 2 || got.AssistantMessages != 2 {
		t.Errorf("Unexpected stats for a: %+v", got)
	}
	if _, ok := stats.ConversationStats["c"]; ok {
		t.Errorf("Conversation c should not be counted")
	}
}

func TestGenerateReportSummary(t *testing.T) {
	stats := &DailyStats{
		Date:                "2024-01-15",
		TotalMessages:       3,
		UserMessages:        2,
		AssistantMessages:   1,
		NewConversations:    1,
		ActiveConversations: 1,
		ConversationStats: map[string]ConversationStats{
			"a": {ID: "a", Title: "hello", UserMessages: 2, AssistantMessages: 1},
		},
	}

	summary := stats.GenerateReportSummary()
	for _, want := range []string{"2024-01-15", "Messages: 3 (user 2, assistant 1)", `"hello": 2 user, 1 assistant`} {
		if !strings.Contains(summary, want) {
			t.Errorf("Summary should contain %q, got:\n%s", want, summary)
		}
	}

	empty := (&DailyStats{Date: "2024-01-16", ConversationStats: map[string]ConversationStats{}}).GenerateReportSummary()
	if strings.Contains(empty, "By conversation") {
		t.Errorf("Empty summary should not list conversations")
	}
}

func TestToJSON(t *testing.T) {
	stats := AnalyzeDay(nil, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	out, err := stats.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	var back DailyStats
	if err := json.Unmarshal([]byte(out), &back); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if back.Date != "2024-01-15" {
		t.Errorf("Expected date to survive, got %q", back.Date)
	}
}
