package store

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"demo-chatter/internal/conversation"
)

// StorageKey is the single key holding the whole serialized conversation list.
const StorageKey = "conversations"

const schemaVersion = 1

type persistedState struct {
	Version       int                         `json:"version"`
	Conversations []conversation.Conversation `json:"conversations"`
}

func encodeState(convs []conversation.Conversation) ([]byte, error) {
	data, err := json.Marshal(persistedState{Version: schemaVersion, Conversations: convs})
	if err != nil {
		return nil, errors.Wrap(err, "encode state")
	}
	return data, nil
}

func decodeState(data []byte) ([]conversation.Conversation, error) {
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, errors.Wrap(err, "decode state")
	}
	if ps.Version != schemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", ps.Version)
	}
	if err := validate(ps.Conversations); err != nil {
		return nil, errors.Wrap(err, "invalid state")
	}
	return ps.Conversations, nil
}

func validate(convs []conversation.Conversation) error {
	seen := make(map[string]bool, len(convs))
	for i := range convs {
		c := &convs[i]
		if c.ID == "" {
			return fmt.Errorf("conversation %d has no id", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate conversation id %s", c.ID)
		}
		seen[c.ID] = true
		if c.Messages == nil {
			c.Messages = []conversation.Message{}
		}
		msgIDs := make(map[string]bool, len(c.Messages))
		for _, m := range c.Messages {
			if m.ID == "" || msgIDs[m.ID] {
				return fmt.Errorf("conversation %s: missing or duplicate message id %q", c.ID, m.ID)
			}
			msgIDs[m.ID] = true
			if m.Role != conversation.RoleUser && m.Role != conversation.RoleAssistant {
				return fmt.Errorf("conversation %s: unknown role %q", c.ID, m.Role)
			}
		}
	}
	return nil
}
