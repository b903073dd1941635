package db

import "time"

// Message is one recorded chat line. Kind is "private" or "group"; TargetID
// is the group id for group chats and the peer's user id for private chats.
type Message struct {
	ID         int64     `json:"id"`
	MessageID  int64     `json:"messageId"`
	Kind       string    `json:"kind"`
	TargetID   int64     `json:"targetId"`
	UserID     int64     `json:"userId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (db *DB) InsertMessage(m Message) (*Message, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := db.Exec(`
		INSERT INTO messages (message_id, kind, target_id, user_id, sender_name, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.MessageID, m.Kind, m.TargetID, m.UserID, m.SenderName, m.Content, m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecentMessages returns up to limit messages of one conversation, oldest
// first.
func (db *DB) RecentMessages(kind string, targetID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := db.Query(`
		SELECT id, message_id, kind, target_id, user_id, sender_name, content, created_at
		FROM messages WHERE kind = ? AND target_id = ?
		ORDER BY id DESC LIMIT ?
	`, kind, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MessageID, &m.Kind, &m.TargetID, &m.UserID, &m.SenderName, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountMessages reports how many messages one conversation has recorded.
func (db *DB) CountMessages(kind string, targetID int64) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE kind = ? AND target_id = ?`, kind, targetID).Scan(&n)
	return n, err
}
