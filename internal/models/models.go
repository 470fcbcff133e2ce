package models

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a registered participant
type Account struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Address      string    `db:"address" json:"address"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// FileRecord represents a registered file and its engagement totals
type FileRecord struct {
	ID            uint64    `json:"id"`
	ContentRef    string    `json:"content_ref"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	Tags          []string  `json:"tags"`
	Uploader      string    `json:"uploader"`
	CreatedAt     time.Time `json:"created_at"`
	TotalTips     int64     `json:"total_tips"`
	AverageRating int64     `json:"average_rating"`
	RatingCount   int64     `json:"rating_count"`
}

// Clone returns a deep copy of the record
func (f FileRecord) Clone() FileRecord {
	if f.Tags != nil {
		f.Tags = append([]string(nil), f.Tags...)
	}
	return f
}

// Comment represents a comment appended to a file
type Comment struct {
	FileID    uint64    `json:"file_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// EventKind names a registry notification
type EventKind string

const (
	EventFileCreated        EventKind = "file-created"
	EventMetadataUpdated    EventKind = "file-metadata-updated"
	EventTagAdded           EventKind = "tag-added"
	EventTipRecorded        EventKind = "tip-recorded"
	EventRatingRecorded     EventKind = "rating-recorded"
	EventCommentAdded       EventKind = "comment-added"
	EventRewardAccrued      EventKind = "reward-accrued"
	EventRewardClaimed      EventKind = "reward-claimed"
	EventTokenLedgerChanged EventKind = "token-ledger-changed"
	EventTreasuryWithdrawn  EventKind = "treasury-withdrawn"
	EventOwnershipChanged   EventKind = "ownership-transferred"
)

// Event is a notification emitted once per successful registry operation.
// Only the fields relevant to Kind are populated.
type Event struct {
	Seq        uint64    `json:"seq"`
	ID         uuid.UUID `json:"id"`
	Kind       EventKind `json:"kind"`
	FileID     uint64    `json:"file_id,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Recipient  string    `json:"recipient,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Total      int64     `json:"total,omitempty"`
	Rating     int64     `json:"rating,omitempty"`
	Average    int64     `json:"average,omitempty"`
	Count      int64     `json:"count,omitempty"`
	ContentRef string    `json:"content_ref,omitempty"`
	Title      string    `json:"title,omitempty"`
	Desc       string    `json:"description,omitempty"`
	Category   string    `json:"category,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	Text       string    `json:"text,omitempty"`
	TokenRef   string    `json:"token_ref,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
