package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sozuri-connect/internal/models"
)

const conversationColumns = `id, customer_id, customer_name, customer_email, customer_avatar,
	agent_id, status, tags, metadata, created_at, updated_at`

func scanConversation(row rowScanner) (*models.Conversation, sql.NullString, error) {
	var c models.Conversation
	var agentID sql.NullString
	var tags, metadata string
	err := row.Scan(&c.ID, &c.Customer.ID, &c.Customer.Name, &c.Customer.Email, &c.Customer.Avatar,
		&agentID, &c.Status, &tags, &metadata, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, agentID, err
	}
	json.Unmarshal([]byte(tags), &c.Tags)
	json.Unmarshal([]byte(metadata), &c.Metadata)
	return &c, agentID, nil
}

// hydrate fills the assigned agent and the last message.
func (db *DB) hydrate(c *models.Conversation, agentID sql.NullString) error {
	if agentID.Valid {
		a, err := db.GetAgent(agentID.String)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		c.Agent = a
	}
	last, err := db.lastMessage(c.ID)
	if err != nil {
		return err
	}
	c.LastMessage = last
	return nil
}

func (db *DB) CreateConversation(req models.CreateConversationRequest) (*models.Conversation, error) {
	start := time.Now()
	ts := now()
	customer := req.Customer
	if customer.ID == "" {
		customer.ID = newID("cust")
	}
	c := &models.Conversation{
		ID:        newID("conv"),
		Customer:  customer,
		Status:    models.ConversationWaiting,
		CreatedAt: ts,
		UpdatedAt: ts,
		Tags:      req.Tags,
		Metadata:  req.Metadata,
	}
	_, err := db.Exec(
		"INSERT INTO conversations ("+conversationColumns+") VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?)",
		c.ID, customer.ID, customer.Name, customer.Email, customer.Avatar,
		c.Status, encodeJSON(c.Tags), encodeMap(c.Metadata), ts, ts,
	)
	db.log.LogDbOperation("create_conversation", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return c, nil
}

func (db *DB) GetConversation(id string) (*models.Conversation, error) {
	c, agentID, err := scanConversation(db.QueryRow("SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "conversation", id)
	}
	if err := db.hydrate(c, agentID); err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns conversations newest first. An empty status
// matches every conversation.
func (db *DB) ListConversations(status models.ConversationStatus) ([]models.Conversation, error) {
	query := "SELECT " + conversationColumns + " FROM conversations"
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}

	type pendingRow struct {
		conv    *models.Conversation
		agentID sql.NullString
	}
	var found []pendingRow
	for rows.Next() {
		c, agentID, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		found = append(found, pendingRow{c, agentID})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	rows.Close()

	// hydrate after the cursor is closed: the pool has a single connection
	conversations := make([]models.Conversation, 0, len(found))
	for _, p := range found {
		if err := db.hydrate(p.conv, p.agentID); err != nil {
			return nil, err
		}
		conversations = append(conversations, *p.conv)
	}
	return conversations, nil
}

func (db *DB) UpdateConversationStatus(id string, status models.ConversationStatus) (*models.Conversation, error) {
	res, err := db.Exec("UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?", status, now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	if err := requireRow(res, "conversation", id); err != nil {
		return nil, err
	}
	return db.GetConversation(id)
}

// AssignAgent hands the conversation to agentID and marks it active.
func (db *DB) AssignAgent(id, agentID string) (*models.Conversation, error) {
	if _, err := db.GetAgent(agentID); err != nil {
		return nil, err
	}
	res, err := db.Exec("UPDATE conversations SET agent_id = ?, status = ?, updated_at = ? WHERE id = ?",
		agentID, models.ConversationActive, now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to assign agent: %w", err)
	}
	if err := requireRow(res, "conversation", id); err != nil {
		return nil, err
	}
	return db.GetConversation(id)
}
