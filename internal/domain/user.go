// Package domain contains core domain types for the Chatify client.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UserIdentity is the signed-in user as reported by the backend.
type UserIdentity struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// DisplayName returns the best human-readable name for the user.
func (u UserIdentity) DisplayName() string {
	switch {
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	case u.ID != "":
		return u.ID
	default:
		return "anonymous"
	}
}

// IsZero reports whether the identity carries no information at all.
func (u UserIdentity) IsZero() bool {
	return u.ID == "" && u.Username == "" && u.Email == ""
}

// UnmarshalJSON accepts either a user object or a bare username string.
// Mongo-style "_id" keys are accepted as the ID.
func (u *UserIdentity) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*u = UserIdentity{}
		return nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return fmt.Errorf("decode user name: %w", err)
		}
		*u = UserIdentity{Username: name}
		return nil
	}

	var raw struct {
		ID       any    `json:"id"`
		MongoID  any    `json:"_id"`
		Username string `json:"username"`
		Name     string `json:"name"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode user object: %w", err)
	}

	id := idString(raw.ID)
	if id == "" {
		id = idString(raw.MongoID)
	}
	username := raw.Username
	if username == "" {
		username = raw.Name
	}
	*u = UserIdentity{ID: id, Username: username, Email: raw.Email}
	return nil
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}
