// Package identity publishes the externally supplied sign-in state to interested components.
package identity

import (
	"strings"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/auth"
)

// Snapshot is the read-only view of the current identity.
type Snapshot struct {
	Present     bool
	ID          string
	Email       string
	DisplayName string
}

// Guest returns the snapshot of a signed-out device.
func Guest() Snapshot {
	return Snapshot{}
}

// FromClaims derives the snapshot of a validated session. Its ID is the same owner id
// the API server stamps on ideas.
func FromClaims(claims auth.SessionClaims) Snapshot {
	ownerID := claims.OwnerID()
	if ownerID == "" {
		return Guest()
	}
	return Snapshot{
		Present:     true,
		ID:          ownerID,
		Email:       strings.TrimSpace(claims.UserEmail),
		DisplayName: strings.TrimSpace(claims.UserDisplayName),
	}
}
