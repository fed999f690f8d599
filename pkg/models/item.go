package models

import (
	"time"

	"github.com/google/uuid"
)

// Tab names the collection a placeholder item lives in.
type Tab string

const (
	TabStyle    Tab = "style"
	TabSources  Tab = "sources"
	TabScenario Tab = "scenario"
)

// Valid reports whether t names a known collection.
func (t Tab) Valid() bool {
	return t == TabStyle || t == TabSources || t == TabScenario
}

// MaxItemIDLength bounds client-chosen item ids.
const MaxItemIDLength = 128

// Item is a style, source or scenario. Its id is opaque: clients may pick one
// (browsers use a millisecond timestamp) and the server only generates one
// when none is given. While a job is producing its content the item exists
// as a placeholder with Loading set.
type Item struct {
	ID        string    `db:"id"         json:"id"`
	Kind      Tab       `db:"kind"       json:"kind"`
	Name      string    `db:"name"       json:"name"`
	Type      string    `db:"type"       json:"type"`
	Content   string    `db:"content"    json:"content"`
	Selected  bool      `db:"selected"   json:"selected"`
	Loading   bool      `db:"loading"    json:"loading"`
	VideoURL  *string   `db:"video_url"  json:"videoUrl,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ChatMessage is one turn of the planning conversation.
type ChatMessage struct {
	ID        *uuid.UUID `db:"id"         json:"id,omitempty"`
	Role      string     `db:"role"       json:"role"`
	Content   string     `db:"content"    json:"content"`
	Timestamp *time.Time `db:"created_at" json:"timestamp,omitempty"`
}
