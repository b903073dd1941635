package onebot

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultCommandPrefix is used by Command when no prefix is given.
const DefaultCommandPrefix = "/"

// Predicate decides whether a binding fires for an event. Implementations are
// pure and return false for event variants they do not understand.
type Predicate interface {
	Match(Event) bool
}

// PredicateFunc adapts a function to a Predicate.
type PredicateFunc func(Event) bool

func (f PredicateFunc) Match(ev Event) bool { return f(ev) }

// All reports whether every predicate matches. An empty set matches everything.
func All(ev Event, preds ...Predicate) bool {
	for _, p := range preds {
		if !p.Match(ev) {
			return false
		}
	}
	return true
}

func asMessage(ev Event) (*MessageEvent, bool) {
	m, ok := ev.(*MessageEvent)
	return m, ok && m != nil
}

type received struct{}

func (received) Match(Event) bool { return true }

// Received matches any inbound event of the binding's category.
func Received() Predicate { return received{} }

type command struct {
	token string
}

func (c command) Match(ev Event) bool {
	m, ok := asMessage(ev)
	if !ok {
		return false
	}
	text := strings.TrimSpace(m.RawMessage)
	if !strings.HasPrefix(text, c.token) {
		return false
	}
	rest := text[len(c.token):]
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return unicode.IsSpace(r)
}

// Command matches messages that start with "/name" followed by whitespace or
// the end of the text.
func Command(name string) Predicate {
	return CommandWithPrefix(DefaultCommandPrefix, name)
}

func CommandWithPrefix(prefix, name string) Predicate {
	return command{token: prefix + name}
}

// CommandArgs returns the text after the command token, trimmed. ok is false
// when the message does not carry the command.
func CommandArgs(m *MessageEvent, prefix, name string) (args string, ok bool) {
	if !CommandWithPrefix(prefix, name).Match(m) {
		return "", false
	}
	text := strings.TrimSpace(m.RawMessage)
	return strings.TrimSpace(text[len(prefix+name):]), true
}

type isMessage struct{}

func (isMessage) Match(ev Event) bool {
	_, ok := asMessage(ev)
	return ok
}

func IsMessage() Predicate { return isMessage{} }

type messageType string

func (t messageType) Match(ev Event) bool {
	m, ok := asMessage(ev)
	return ok && m.MessageType == string(t)
}

func PrivateMessage() Predicate { return messageType(MessageTypePrivate) }

func GroupMessage() Predicate { return messageType(MessageTypeGroup) }

type userID int64

func (id userID) Match(ev Event) bool {
	m, ok := asMessage(ev)
	return ok && m.UserID == int64(id)
}

// UserID matches messages sent by the given user.
func UserID(id int64) Predicate { return userID(id) }

type groupID int64

func (id groupID) Match(ev Event) bool {
	m, ok := asMessage(ev)
	return ok && m.IsGroup() && m.GroupID == int64(id)
}

// GroupID matches messages posted in the given group.
func GroupID(id int64) Predicate { return groupID(id) }

type regex struct {
	re *regexp.Regexp
}

func (r regex) Match(ev Event) bool {
	m, ok := asMessage(ev)
	return ok && r.re.MatchString(m.RawMessage)
}

// Regex matches messages whose raw text contains a match for pattern.
func Regex(pattern string) (Predicate, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return regex{re: re}, nil
}

func MustRegex(pattern string) Predicate {
	return regex{re: regexp.MustCompile(pattern)}
}

type keywords struct {
	folded []string
}

func (k keywords) Match(ev Event) bool {
	m, ok := asMessage(ev)
	if !ok {
		return false
	}
	text := fold(m.RawMessage)
	for _, kw := range k.folded {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ContainsKeyword matches messages containing any of the words, ignoring case.
func ContainsKeyword(words ...string) Predicate {
	k := keywords{folded: make([]string, 0, len(words))}
	for _, w := range words {
		if w == "" {
			continue
		}
		k.folded = append(k.folded, fold(w))
	}
	return k
}

// fold builds a new Caser per call; Casers are stateful.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
