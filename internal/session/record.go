// Package session holds the per-conversation working memory: the context
// record persisted per conversation key, the footer codec that smuggles that
// context through message text, and the resolver that reconstructs context
// at the start of every turn.
package session

import (
	"encoding/json"

	"github.com/stagehandlabs/stagehand/internal/convkey"
)

// Record is the working memory for one conversation. Fields are filled in
// as events arrive and are never erased by later events: classification is
// deterministic per key family, so a later event may only add information.
type Record struct {
	JiraIssueKey string `json:"trackerIssueKey,omitempty"`
	JiraIssueURL string `json:"trackerIssueUrl,omitempty"`
	RequesterID  string `json:"requesterId,omitempty"`

	PlatformKind convkey.Kind `json:"platformKind,omitempty"`
	Owner        string       `json:"owner,omitempty"`
	Repo         string       `json:"repo,omitempty"`
	Number       int          `json:"number,omitempty"`
}

// HasJira reports whether a Jira issue identity is present.
func (r Record) HasJira() bool {
	return r.JiraIssueKey != ""
}

// HasGitHub reports whether a GitHub owner/repo/number identity is present.
func (r Record) HasGitHub() bool {
	return r.Owner != "" && r.Repo != "" && r.Number > 0
}

// IsZero reports whether no context at all has been resolved.
func (r Record) IsZero() bool {
	return r == Record{}
}

// Merge returns r with gaps filled from other. Fields already set on r win,
// so merging the same update twice is a no-op and earlier knowledge is never
// contradicted.
func (r Record) Merge(other Record) Record {
	if r.JiraIssueKey == "" {
		r.JiraIssueKey = other.JiraIssueKey
	}
	if r.JiraIssueURL == "" {
		r.JiraIssueURL = other.JiraIssueURL
	}
	if r.RequesterID == "" {
		r.RequesterID = other.RequesterID
	}
	if r.PlatformKind == "" {
		r.PlatformKind = other.PlatformKind
	}
	if r.Owner == "" {
		r.Owner = other.Owner
	}
	if r.Repo == "" {
		r.Repo = other.Repo
	}
	if r.Number == 0 {
		r.Number = other.Number
	}
	return r
}

// Marshal serializes the record for storage.
func (r Record) Marshal() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// UnmarshalRecord parses a stored record. Malformed data degrades to an
// empty record: a corrupt store entry must read as a miss, not a fault.
func UnmarshalRecord(data string) Record {
	var r Record
	_ = json.Unmarshal([]byte(data), &r)
	return r
}
