// Package family holds the addressing model: families, their members, and
// the resolver that turns a spoken addressee into a recipient set.
package family

import (
	"strings"
	"time"
)

// Family groups members under one voice-platform account.
type Family struct {
	ID        string
	AccountID string
	SetupCode string
	CreatedAt time.Time
}

// Member is an addressable party within a Family. ID is the bound client
// device id and doubles as the session registry key.
type Member struct {
	ID        string
	FamilyID  string
	Name      string
	CreatedAt time.Time
}

// NameKey is the case-insensitive identity used for addressing.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
