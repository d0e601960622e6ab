// Package audit exposes the trail of role and permission changes written through
// shared.AuditLogger.
package audit

import "time"

// Filters narrows the audit trail. From is inclusive and To is exclusive.
type Filters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Entity   string
	EntityID string
	// Action matches as a prefix, so "custom_role" selects assign and revoke entries.
	Action   string
	Page     int
	PageSize int
}

// Entry is one audit record.
type Entry struct {
	ID         int64          `json:"id"`
	At         time.Time      `json:"at"`
	ActorID    int64          `json:"actorId,omitempty"`
	ActorEmail string         `json:"actorEmail,omitempty"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entityId"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Paging describes the page returned by Timeline.
type Paging struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// Result is one page of the trail.
type Result struct {
	Entries []Entry `json:"data"`
	Paging  Paging  `json:"paging"`
}

// Query is what the repository reads: the filters plus a window.
type Query struct {
	Filters
	Offset int
	Limit  int
}
