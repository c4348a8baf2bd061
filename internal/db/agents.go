package db

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sozuri-connect/internal/models"
)

const agentColumns = `id, name, email, role, status, avatar, skills`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner, extra ...interface{}) (*models.Agent, error) {
	var a models.Agent
	var skills string
	dest := append([]interface{}{&a.ID, &a.Name, &a.Email, &a.Role, &a.Status, &a.Avatar, &skills}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(skills), &a.Skills)
	return &a, nil
}

// CreateAgent stores a new agent. passwordHash must already be hashed.
func (db *DB) CreateAgent(req models.RegisterAgentRequest, passwordHash string) (*models.Agent, error) {
	start := time.Now()
	role := req.Role
	if role == "" {
		role = models.RoleAgent
	}
	a := &models.Agent{
		ID:     newID("agent"),
		Name:   req.Name,
		Email:  strings.ToLower(strings.TrimSpace(req.Email)),
		Role:   role,
		Status: models.AgentOffline,
		Avatar: req.Avatar,
		Skills: req.Skills,
	}
	_, err := db.Exec(
		"INSERT INTO agents (id, name, email, password, role, status, avatar, skills, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.Name, a.Email, passwordHash, a.Role, a.Status, a.Avatar, encodeJSON(a.Skills), now(),
	)
	db.log.LogDbOperation("create_agent", time.Since(start), err)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("agent %s: %w", a.Email, ErrConflict)
		}
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return a, nil
}

// GetAgentByEmail returns the agent and its password hash.
func (db *DB) GetAgentByEmail(email string) (*models.Agent, string, error) {
	var hash string
	email = strings.ToLower(strings.TrimSpace(email))
	a, err := scanAgent(db.QueryRow("SELECT "+agentColumns+", password FROM agents WHERE email = ?", email), &hash)
	if err != nil {
		return nil, "", notFound(err, "agent", email)
	}
	return a, hash, nil
}

func (db *DB) GetAgent(id string) (*models.Agent, error) {
	a, err := scanAgent(db.QueryRow("SELECT "+agentColumns+" FROM agents WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "agent", id)
	}
	return a, nil
}

func (db *DB) ListAgents() ([]models.Agent, error) {
	rows, err := db.Query("SELECT " + agentColumns + " FROM agents ORDER BY name COLLATE NOCASE")
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (db *DB) CountAgents() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM agents").Scan(&n)
	return n, err
}

// UpdateAgent applies the non-nil fields of req.
func (db *DB) UpdateAgent(id string, req models.UpdateAgentRequest) (*models.Agent, error) {
	a, err := db.GetAgent(id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		a.Name = *req.Name
	}
	if req.Role != nil {
		a.Role = *req.Role
	}
	if req.Avatar != nil {
		a.Avatar = *req.Avatar
	}
	if req.Skills != nil {
		a.Skills = req.Skills
	}
	_, err = db.Exec("UPDATE agents SET name = ?, role = ?, avatar = ?, skills = ? WHERE id = ?",
		a.Name, a.Role, a.Avatar, encodeJSON(a.Skills), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	return a, nil
}

func (db *DB) SetAgentStatus(id string, status models.AgentStatus) (*models.Agent, error) {
	res, err := db.Exec("UPDATE agents SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return nil, fmt.Errorf("failed to set agent status: %w", err)
	}
	if err := requireRow(res, "agent", id); err != nil {
		return nil, err
	}
	return db.GetAgent(id)
}

func (db *DB) DeleteAgent(id string) error {
	res, err := db.Exec("DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return requireRow(res, "agent", id)
}

// SeedAdmin creates an admin agent when no agents exist yet. It reports
// whether an agent was created.
func (db *DB) SeedAdmin(email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}
	n, err := db.CountAgents()
	if err != nil {
		return false, fmt.Errorf("failed to count agents: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}
	_, err = db.CreateAgent(models.RegisterAgentRequest{Name: "Administrator", Email: email, Role: models.RoleAdmin}, string(hash))
	if err != nil {
		return false, err
	}
	return true, nil
}
