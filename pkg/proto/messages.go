// Package proto defines the documents and the message envelope exchanged
// between the orchestrator and the build/query workers.
//
// Workers never share memory with their callers: every request and response
// crosses a channel as one of these values, and payload slices are treated as
// read-only once sent.
package proto

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
)

// ---------- Corpus ----------

// Document is one entry of the site corpus. URL is the unique identifier.
type Document struct {
	URL     string   `json:"url" codec:"url"`
	Title   string   `json:"title" codec:"title"`
	Section string   `json:"section,omitempty" codec:"section"`
	Tags    []string `json:"tags,omitempty" codec:"tags"`
	Content string   `json:"content,omitempty" codec:"content"`
	Summary string   `json:"summary,omitempty" codec:"summary"`
	Date    string   `json:"date,omitempty" codec:"date"`
}

// Body returns the text used for matching: Content, or Summary when the
// document has no content.
func (d Document) Body() string {
	if d.Content != "" {
		return d.Content
	}
	return d.Summary
}

// ---------- Messages ----------

// MessageType discriminates requests and responses.
type MessageType string

const (
	// requests
	TypeBuild             MessageType = "build"
	TypeHydrate           MessageType = "hydrate"
	TypeLoadCachedIndices MessageType = "load_cached_indices"
	TypeQuery             MessageType = "query"

	// responses
	TypeBuildStep    MessageType = "build_step"
	TypeSectionBuilt MessageType = "section_built"
	TypeBuilt        MessageType = "built"
	TypeReady        MessageType = "ready"
	TypeQueryResult  MessageType = "query_result"
	TypeError        MessageType = "error"
)

// AllSections is the reserved section label of the global index.
const AllSections = "all"

// Indices carries serialized index artifacts.
type Indices struct {
	All       []byte            `json:"all" codec:"all"`
	BySection map[string][]byte `json:"bySection" codec:"bySection"`
}

// Options are the user-facing query switches.
type Options struct {
	ExactMatch    bool `json:"exactMatch"`
	CaseSensitive bool `json:"caseSensitive"`
	UseRegex      bool `json:"useRegex"`
	LiveQuery     bool `json:"liveQuery"`
}

// QueryParams is the payload of a query request. Phrases is parallel to
// Terms and marks terms that came from a quoted phrase.
type QueryParams struct {
	Terms   []string `json:"terms"`
	Tags    []string `json:"tags"`
	Tabs    []string `json:"tabs"`
	Limit   int      `json:"limit"`
	Options Options  `json:"options"`
	Phrases []bool   `json:"phrases"`
}

// ResultEntry is one ranked hit.
type ResultEntry struct {
	Ref   string  `json:"ref"`
	Score float64 `json:"score"`
}

// Progress reports completed indexes out of the total for a build.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Request is sent to a worker.
type Request struct {
	Type        MessageType  `json:"type"`
	ID          int64        `json:"id,omitempty"`
	Docs        []Document   `json:"docs,omitempty"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	Indices     *Indices     `json:"indices,omitempty"`
	Sections    []string     `json:"sections,omitempty"`
	Query       *QueryParams `json:"query,omitempty"`
}

// Response is emitted by a worker.
type Response struct {
	Type     MessageType   `json:"type"`
	ID       int64         `json:"id,omitempty"`
	Step     string        `json:"step,omitempty"`
	Message  string        `json:"message,omitempty"`
	Section  string        `json:"section,omitempty"`
	Progress *Progress     `json:"progress,omitempty"`
	Docs     []Document    `json:"docs,omitempty"`
	Sections []string      `json:"sections,omitempty"`
	Indices  *Indices      `json:"indices,omitempty"`
	Results  []ResultEntry `json:"results,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     ErrorCode     `json:"code,omitempty"`
}

// ErrorCode classifies an error response so callers can react without
// parsing the message.
type ErrorCode string

const (
	CodeNotReady        ErrorCode = "not_ready"
	CodeNoCachedIndices ErrorCode = "no_cached_indices"
	CodeStaleIndices    ErrorCode = "stale_indices"
	CodeInvalid         ErrorCode = "invalid"
	CodeInternal        ErrorCode = "internal"
)

// Terminal reports whether r ends a build.
func (r Response) Terminal() bool {
	return r.Type == TypeBuilt || r.Type == TypeError
}

// Err returns nil for non-error responses and otherwise an error wrapping the
// sentinel that matches Code.
func (r Response) Err() error {
	if r.Type != TypeError {
		return nil
	}
	sentinel := apperrors.ErrInternal
	switch r.Code {
	case CodeNotReady:
		sentinel = apperrors.ErrNotReady
	case CodeNoCachedIndices:
		sentinel = apperrors.ErrNoCachedIndices
	case CodeStaleIndices:
		sentinel = apperrors.ErrStaleIndices
	case CodeInvalid:
		sentinel = apperrors.ErrInvalidInput
	}
	if r.Error == "" || r.Error == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, r.Error)
}
