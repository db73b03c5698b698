package models

import (
	"strings"
	"time"
)

// Permissions understood by the API
const (
	PermTandasRead        = "tandas:read"
	PermTandasControl     = "tandas:control"
	PermScoresWrite       = "scores:write"
	PermCompetitionsWrite = "competitions:write"
)

// ApiClient represents an authenticated API client: the organizer console,
// a judge tablet or a read-only scoreboard
type ApiClient struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	ApiKey      string            `json:"-"` // Never serialize
	IsActive    bool              `json:"is_active"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUsedAt  *time.Time        `json:"last_used_at,omitempty"`
	Permissions []string          `json:"permissions"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HasPermission checks if client has specific permission.
// "tandas:*" matches "tandas:read", "*" matches everything.
func (c *ApiClient) HasPermission(required string) bool {
	if c == nil || !c.IsActive {
		return false
	}

	for _, perm := range c.Permissions {
		if perm == required || perm == "*" {
			return true
		}

		if strings.HasSuffix(perm, ":*") {
			prefix := strings.TrimSuffix(perm, "*")
			if strings.HasPrefix(required, prefix) {
				return true
			}
		}
	}

	return false
}

// judgeScope is everything a judge tablet may do, whatever its permission list says
var judgeScope = map[string]bool{
	PermTandasRead:  true,
	PermScoresWrite: true,
}

// Allows is HasPermission narrowed for judge-bound clients. A judge tablet
// never controls the tanda clock or edits competitions.
func (c *ApiClient) Allows(required string) bool {
	if c.JudgeID() != "" && !judgeScope[required] {
		return false
	}
	return c.HasPermission(required)
}

// JudgeID returns the judge a client is bound to, empty for organizer clients
func (c *ApiClient) JudgeID() string {
	if c == nil {
		return ""
	}
	return c.Metadata["judge_id"]
}

// MaskedApiKey returns first 8 characters of API key for logging
func (c *ApiClient) MaskedApiKey() string {
	if len(c.ApiKey) < 8 {
		return "***"
	}
	return c.ApiKey[:8] + "..."
}
