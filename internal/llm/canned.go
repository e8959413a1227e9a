package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CannedModel is reported as Response.Model by the canned client.
const CannedModel = "canned"

// Rule maps any of its trigger substrings to a fixed reply.
type Rule struct {
	Name     string   `yaml:"name"`
	Triggers []string `yaml:"triggers"`
	Reply    string   `yaml:"reply"`
}

// Rules are checked in order; the first match wins.
type Rules struct {
	Rules    []Rule `yaml:"rules"`
	Fallback string `yaml:"fallback"`
}

// DefaultRules is the built-in set: greeting, status, help, code.
func DefaultRules() Rules {
	return Rules{
		Rules: []Rule{
			{
				Name:     "greeting",
				Triggers: []string{"hello"},
				Reply:    "Hello! I'm your AI assistant. How can I help you today?",
			},
			{
				Name:     "status",
				Triggers: []string{"how are you"},
				Reply:    "I'm doing great, thanks for asking! I'm here and ready to help with whatever you need.",
			},
			{
				Name:     "help",
				Triggers: []string{"help"},
				Reply:    "I can answer questions, explain concepts, help you write and review code, or brainstorm ideas. What would you like to work on?",
			},
			{
				Name:     "code",
				Triggers: []string{"code", "programming"},
				Reply: "Here's a small example:\n\n```go\npackage main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"Hello, world!\")\n}\n```\n\n" +
					"Let me know if you want me to walk through it.",
			},
		},
		Fallback: "That's an interesting question. I'm a demo assistant with canned replies, so I can't give a real answer, but feel free to ask about code or say hello!",
	}
}

// LoadRules reads a YAML rules file. An empty path yields the defaults.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules: %w", err)
	}
	if err := rules.validate(); err != nil {
		return Rules{}, err
	}
	if rules.Fallback == "" {
		rules.Fallback = DefaultRules().Fallback
	}
	return rules, nil
}

func (r Rules) validate() error {
	for i, rule := range r.Rules {
		if len(rule.Triggers) == 0 {
			return fmt.Errorf("rule %d (%s): no triggers", i, rule.Name)
		}
		for _, trigger := range rule.Triggers {
			if strings.TrimSpace(trigger) == "" {
				return fmt.Errorf("rule %d (%s): blank trigger", i, rule.Name)
			}
		}
		if rule.Reply == "" {
			return fmt.Errorf("rule %d (%s): empty reply", i, rule.Name)
		}
	}
	return nil
}

// Reply is a pure mapping from input text to a canned answer.
func (r Rules) Reply(input string) string {
	lower := strings.ToLower(input)
	for _, rule := range r.Rules {
		for _, trigger := range rule.Triggers {
			if strings.Contains(lower, strings.ToLower(trigger)) {
				return rule.Reply
			}
		}
	}
	return r.Fallback
}

// Canned stands in for a model: it answers the latest user message from Rules.
type Canned struct {
	rules Rules
}

func NewCanned(rules Rules) *Canned {
	return &Canned{rules: rules}
}

func (c *Canned) Generate(ctx context.Context, messages []Message) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return Response{Content: c.rules.Reply(messages[i].Content), Model: CannedModel}, nil
		}
	}
	return Response{}, errors.New("no user message to reply to")
}
