package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sozuri-connect/internal/models"
)

const messageColumns = `id, conversation_id, sender_type, sender_id, content, attachments, status, created_at`

func scanMessage(row rowScanner) (*models.ChatMessage, error) {
	var m models.ChatMessage
	var attachments string
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderType, &m.SenderID, &m.Content, &attachments, &m.Status, &m.Timestamp)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(attachments), &m.Attachments)
	return &m, nil
}

// CreateMessage appends a message and bumps the conversation's updated_at.
func (db *DB) CreateMessage(conversationID string, senderType models.SenderType, senderID, content string, attachments []models.Attachment) (*models.ChatMessage, error) {
	start := time.Now()
	m := &models.ChatMessage{
		ID:             newID("msg"),
		ConversationID: conversationID,
		SenderType:     senderType,
		SenderID:       senderID,
		Content:        content,
		Timestamp:      now(),
		Status:         models.StatusSent,
		Attachments:    attachments,
	}
	for i := range m.Attachments {
		if m.Attachments[i].ID == "" {
			m.Attachments[i].ID = newID("att")
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("UPDATE conversations SET updated_at = ? WHERE id = ?", m.Timestamp, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}
	if err := requireRow(res, "conversation", conversationID); err != nil {
		return nil, err
	}

	_, err = tx.Exec("INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.ConversationID, m.SenderType, m.SenderID, m.Content, encodeJSON(m.Attachments), m.Status, m.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	err = tx.Commit()
	db.log.LogDbOperation("create_message", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return m, nil
}

// ListMessages returns the history of a conversation, oldest first.
func (db *DB) ListMessages(conversationID string) ([]models.ChatMessage, error) {
	if _, err := db.GetConversation(conversationID); err != nil {
		return nil, err
	}
	rows, err := db.Query("SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY created_at, rowid", conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []models.ChatMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (db *DB) GetMessage(id string) (*models.ChatMessage, error) {
	m, err := scanMessage(db.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "message", id)
	}
	return m, nil
}

func (db *DB) lastMessage(conversationID string) (*models.ChatMessage, error) {
	m, err := scanMessage(db.QueryRow(
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1",
		conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// AdvanceMessageStatus moves a message forward to status. changed is false
// when the message was already at or past it.
func (db *DB) AdvanceMessageStatus(id string, status models.MessageStatus) (m *models.ChatMessage, changed bool, err error) {
	m, err = db.GetMessage(id)
	if err != nil {
		return nil, false, err
	}
	next := m.Status.Advance(status)
	if next == m.Status {
		return m, false, nil
	}
	if _, err := db.Exec("UPDATE messages SET status = ? WHERE id = ?", next, id); err != nil {
		return nil, false, fmt.Errorf("failed to update message status: %w", err)
	}
	m.Status = next
	return m, true, nil
}
