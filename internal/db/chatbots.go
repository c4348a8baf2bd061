package db

import (
	"fmt"

	"sozuri-connect/internal/models"
)

const chatbotColumns = `id, name, description, status, greeting, created_at, updated_at`

func scanChatbot(row rowScanner) (*models.Chatbot, error) {
	var b models.Chatbot
	if err := row.Scan(&b.ID, &b.Name, &b.Description, &b.Status, &b.Greeting, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (db *DB) CreateChatbot(req models.ChatbotRequest) (*models.Chatbot, error) {
	ts := now()
	b := &models.Chatbot{
		ID:          newID("bot"),
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
		Greeting:    req.Greeting,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if b.Status == "" {
		b.Status = models.ChatbotInactive
	}
	_, err := db.Exec("INSERT INTO chatbots ("+chatbotColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		b.ID, b.Name, b.Description, b.Status, b.Greeting, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create chatbot: %w", err)
	}
	return b, nil
}

func (db *DB) GetChatbot(id string) (*models.Chatbot, error) {
	b, err := scanChatbot(db.QueryRow("SELECT "+chatbotColumns+" FROM chatbots WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "chatbot", id)
	}
	return b, nil
}

func (db *DB) ListChatbots() ([]models.Chatbot, error) {
	rows, err := db.Query("SELECT " + chatbotColumns + " FROM chatbots ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query chatbots: %w", err)
	}
	defer rows.Close()

	bots := []models.Chatbot{}
	for rows.Next() {
		b, err := scanChatbot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chatbot: %w", err)
		}
		bots = append(bots, *b)
	}
	return bots, rows.Err()
}

// UpdateChatbot overwrites the bot's fields. An empty status keeps the
// current one.
func (db *DB) UpdateChatbot(id string, req models.ChatbotRequest) (*models.Chatbot, error) {
	b, err := db.GetChatbot(id)
	if err != nil {
		return nil, err
	}
	b.Name = req.Name
	b.Description = req.Description
	b.Greeting = req.Greeting
	if req.Status != "" {
		b.Status = req.Status
	}
	b.UpdatedAt = now()
	_, err = db.Exec("UPDATE chatbots SET name = ?, description = ?, status = ?, greeting = ?, updated_at = ? WHERE id = ?",
		b.Name, b.Description, b.Status, b.Greeting, b.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update chatbot: %w", err)
	}
	return b, nil
}

func (db *DB) DeleteChatbot(id string) error {
	res, err := db.Exec("DELETE FROM chatbots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete chatbot: %w", err)
	}
	return requireRow(res, "chatbot", id)
}
