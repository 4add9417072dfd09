package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// InvitationStatus tracks an invitation from creation to the invitee's answer.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationRevoked  InvitationStatus = "revoked"
)

// TripInvitation asks one user to collaborate on a trip. It is written by the
// owner and only ever transitioned by the invitee (or revoked when the trip is
// deleted).
type TripInvitation struct {
	ID           string           `json:"id"`
	TripID       string           `json:"trip_id"`
	TripName     string           `json:"trip_name"`
	InviterID    string           `json:"inviter_id"`
	InviteeEmail string           `json:"invitee_email"`
	InviteeID    string           `json:"invitee_id,omitempty"`
	Permission   PermissionLevel  `json:"permission"`
	Status       InvitationStatus `json:"status"`
	Message      string           `json:"message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	RespondedAt  *time.Time       `json:"responded_at,omitempty"`
}

// NormalizeEmail lowercases and trims an address so lookups by invitee are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks the fields an owner supplies when inviting.
func (i TripInvitation) Validate() error {
	if i.TripID == "" {
		return fmt.Errorf("%w: trip_id is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(i.InviteeEmail); err != nil {
		return fmt.Errorf("%w: invalid invitee email", ErrValidation)
	}
	if !i.Permission.Valid() {
		return fmt.Errorf("%w: permission must be editor or viewer", ErrValidation)
	}
	return nil
}

// AddressedTo reports whether the invitation targets the given user.
func (i TripInvitation) AddressedTo(userID, email string) bool {
	if i.InviteeID != "" && i.InviteeID == userID {
		return true
	}
	return email != "" && NormalizeEmail(email) == NormalizeEmail(i.InviteeEmail)
}
