package model

import "time"

// Share represents one uploaded file and the public link that points at it.
// This is a pure domain model with no database-specific dependencies or tags.
//
// Token, DisplayName, BlobRef, StorageKey, SizeBytes and CreatedAt never change after creation.
// Sender and Receiver go from empty to set exactly once, when the link is emailed.
type Share struct {
	Token       string     `json:"uuid"`
	DisplayName string     `json:"file_name"`
	BlobRef     string     `json:"-"`
	StorageKey  string     `json:"-"`
	SizeBytes   int64      `json:"file_size"`
	ContentType string     `json:"content_type"`
	Sender      string     `json:"-"`
	Receiver    string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletingAt  *time.Time `json:"-"`
}

// Sent reports whether the share link has already been emailed.
func (s *Share) Sent() bool {
	return s.Sender != ""
}

// MarkedForDeletion reports whether a sweep has started removing this share.
func (s *Share) MarkedForDeletion() bool {
	return s.DeletingAt != nil
}

// ExpiresAt returns the moment the share becomes eligible for the sweep.
func (s *Share) ExpiresAt(retention time.Duration) time.Time {
	return s.CreatedAt.Add(retention)
}
