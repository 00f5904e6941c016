// Package models defines the canonical ticket and message records that every
// vendor adapter normalizes into and every store persists.
package models

import (
	"time"

	"github.com/discordwell/cliaas/pkg/json"
)

// Cursor is an opaque per-connector sync position. The empty cursor means
// the beginning of time.
type Cursor string

// IsZero reports whether the cursor marks the beginning of time
func (c Cursor) IsZero() bool { return c == "" }

// Ticket is the canonical helpdesk ticket
type Ticket struct {
	// ExternalID is the vendor's ticket ID; unique per Source
	ExternalID string    `json:"external_id" bson:"external_id"`
	Source     string    `json:"source" bson:"source"`
	Subject    string    `json:"subject" bson:"subject"`
	Status     string    `json:"status" bson:"status"`
	Priority   string    `json:"priority,omitempty" bson:"priority,omitempty"`
	Requester  string    `json:"requester,omitempty" bson:"requester,omitempty"`
	Assignee   string    `json:"assignee,omitempty" bson:"assignee,omitempty"`
	Tags       []string  `json:"tags,omitempty" bson:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updated_at"`

	// Raw holds the vendor payload as received
	Raw json.RawMessage `json:"raw,omitempty" bson:"-"`
}

// Key returns the idempotency key used by stores
func (t Ticket) Key() string { return t.Source + ":" + t.ExternalID }

// Message is one conversation entry on a ticket
type Message struct {
	ExternalID       string    `json:"external_id" bson:"external_id"`
	TicketExternalID string    `json:"ticket_external_id" bson:"ticket_external_id"`
	Source           string    `json:"source" bson:"source"`
	Author           string    `json:"author,omitempty" bson:"author,omitempty"`
	Body             string    `json:"body" bson:"body"`
	Public           bool      `json:"public" bson:"public"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`

	Raw json.RawMessage `json:"raw,omitempty" bson:"-"`
}

// Key returns the idempotency key used by stores
func (m Message) Key() string { return m.Source + ":" + m.ExternalID }
