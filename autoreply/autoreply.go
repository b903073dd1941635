// Package autoreply turns a YAML rule file into message bindings and cron
// announcements.
package autoreply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nicebartender/onebot-bridge/onebot"
	"github.com/nicebartender/onebot-bridge/schedule"
)

const (
	ScopeAny     = ""
	ScopePrivate = onebot.MessageTypePrivate
	ScopeGroup   = onebot.MessageTypeGroup
)

// Rule replies with Reply to every message that passes all of its configured
// conditions. At least one trigger (command, keywords or regex) is required.
type Rule struct {
	Name     string   `yaml:"name"`
	Command  string   `yaml:"command"`
	Prefix   *string  `yaml:"prefix"`
	Keywords []string `yaml:"keywords"`
	Regex    string   `yaml:"regex"`
	Scope    string   `yaml:"scope"`
	UserID   int64    `yaml:"user_id"`
	GroupID  int64    `yaml:"group_id"`
	Reply    string   `yaml:"reply"`
}

type File struct {
	Rules     []Rule         `yaml:"rules"`
	Schedules []schedule.Job `yaml:"schedules"`
}

// Load reads and validates a rule file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}

// Parse decodes a rule file, rejecting unknown fields.
func Parse(data []byte) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	seen := make(map[string]bool)
	for _, r := range f.Rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("rule %q: duplicate name", r.Name)
		}
		seen[r.Name] = true
	}
	for _, j := range f.Schedules {
		if err := j.Validate(); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

func (r Rule) validate() error {
	if r.Name == "" {
		return errors.New("rule without a name")
	}
	if r.Command == "" && len(r.Keywords) == 0 && r.Regex == "" {
		return fmt.Errorf("rule %q: needs a command, keywords or regex", r.Name)
	}
	switch r.Scope {
	case ScopeAny, ScopePrivate, ScopeGroup:
	default:
		return fmt.Errorf("rule %q: unknown scope %q", r.Name, r.Scope)
	}
	if r.GroupID != 0 && r.Scope == ScopePrivate {
		return fmt.Errorf("rule %q: group_id cannot be used with private scope", r.Name)
	}
	if r.Reply == "" {
		return fmt.Errorf("rule %q: empty reply", r.Name)
	}
	if r.Regex != "" {
		if _, err := onebot.Regex(r.Regex); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}
	return nil
}

// Predicates builds the conjunction guarding the rule's binding. Cheap
// filters come before text matching.
func (r Rule) Predicates() ([]onebot.Predicate, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	preds := []onebot.Predicate{onebot.IsMessage()}
	switch r.Scope {
	case ScopePrivate:
		preds = append(preds, onebot.PrivateMessage())
	case ScopeGroup:
		preds = append(preds, onebot.GroupMessage())
	}
	if r.GroupID != 0 {
		preds = append(preds, onebot.GroupID(r.GroupID))
	}
	if r.UserID != 0 {
		preds = append(preds, onebot.UserID(r.UserID))
	}

	if r.Command != "" {
		prefix := "/"
		if r.Prefix != nil {
			prefix = *r.Prefix
		}
		preds = append(preds, onebot.CommandWithPrefix(prefix, r.Command))
	}
	if len(r.Keywords) > 0 {
		preds = append(preds, onebot.ContainsKeyword(r.Keywords...))
	}
	if r.Regex != "" {
		p, err := onebot.Regex(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// Register adds one message binding per rule to client.
func Register(client *onebot.Client, rules []Rule) error {
	for _, r := range rules {
		preds, err := r.Predicates()
		if err != nil {
			return err
		}
		reply := r.Reply
		name := r.Name
		client.OnMessage("autoreply-"+name, func(ctx context.Context, c *onebot.Client, m *onebot.MessageEvent) error {
			if id := c.Reply(ctx, m, reply); id < 0 {
				return fmt.Errorf("autoreply %q: send failed", name)
			}
			return nil
		}, preds...)
	}
	slog.Info("autoreply: rules registered", "count", len(rules))
	return nil
}
