// Package connection models a linked institution credential ("item").
package connection

import (
	"errors"
	"time"
)

// Status values for a connection.
const (
	StatusActive        = "active"
	StatusLoginRequired = "login_required"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrConnectionConflict is returned when an external connection is
	// already linked to a different user.
	ErrConnectionConflict = errors.New("connection already linked to another user")
	ErrInvalidInput       = errors.New("invalid input")
)

// Connection is one linked institution credential owned by a single user.
// Credential holds the decrypted access token; repositories encrypt it at rest.
type Connection struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	ExternalID      string     `json:"externalId"`
	Credential      string     `json:"-"`
	InstitutionID   string     `json:"institutionId,omitempty"`
	InstitutionName string     `json:"institutionName,omitempty"`
	Status          string     `json:"status"`
	LastError       string     `json:"lastError,omitempty"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Syncable reports whether the connection holds a usable credential.
func (c *Connection) Syncable() bool {
	return c.Credential != "" && c.Status == StatusActive
}

// CreateParams contains parameters for persisting a newly exchanged connection.
type CreateParams struct {
	UserID          string
	ExternalID      string
	Credential      string
	InstitutionID   string
	InstitutionName string
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.ExternalID == "" {
		return errors.New("external connection ID is required")
	}
	if p.Credential == "" {
		return errors.New("credential is required")
	}
	return nil
}
