// Package model defines the core data types shared across plannotator.
package model

import "encoding/json"

// ApprovedFeedback is the feedback text carried by an approval.
const ApprovedFeedback = "LGTM - no changes needed"

// Mode identifies what kind of document a session presents.
type Mode int

const (
	ModePlan Mode = iota
	ModeAnnotate
	ModeReview
)

func (m Mode) String() string {
	switch m {
	case ModePlan:
		return "plan"
	case ModeAnnotate:
		return "annotate"
	case ModeReview:
		return "review"
	default:
		return "unknown"
	}
}

// MarshalText lets a Mode appear as its name in JSON responses.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Decision is the terminal outcome of a review session.
type Decision struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
	// Annotations are opaque UI records kept in submission order.
	Annotations []json.RawMessage `json:"annotations,omitempty"`
	AgentSwitch string            `json:"agentSwitch,omitempty"`
}

// LinkedDocs lists secondary documents the reviewer touched.
type LinkedDocs struct {
	Viewed    []string `json:"viewed,omitempty"`
	Requested []string `json:"requested,omitempty"`
}

// Empty reports whether no linked documents were recorded.
func (l LinkedDocs) Empty() bool {
	return len(l.Viewed) == 0 && len(l.Requested) == 0
}

// RepoInfo describes the git checkout a document lives in.
type RepoInfo struct {
	Root    string `json:"root"`
	Branch  string `json:"branch,omitempty"`
	Files   int    `json:"files,omitempty"` // review mode only
	Added   int    `json:"added,omitempty"`
	Deleted int    `json:"deleted,omitempty"`
}
