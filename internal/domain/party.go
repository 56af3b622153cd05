// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type PartyID string

// Role is fixed at session creation and never changes.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleRecipient Role = "recipient"
)

type Party struct {
	ID          PartyID `json:"id"`
	DisplayName string  `json:"displayName"`
}

// NewParty is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParty(id PartyID, displayName string) (*Party, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Party{ID: id, DisplayName: displayName}, nil
}
