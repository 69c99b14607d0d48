package models

import (
	"strings"
	"time"
)

// Permissions granted to API clients. A grant of "<resource>:*" covers every
// action on the resource and "*" covers everything.
const (
	PermAssessmentsWrite = "assessments:write"
	PermAssessmentsRead  = "assessments:read"
	PermResultsWrite     = "results:write"
	PermResultsRead      = "results:read"
	PermDefinitionsRead  = "definitions:read"
	PermDefinitionsWrite = "definitions:write"
	PermSubjectsWrite    = "subjects:write"
)

// MetaSubjectScope is the client metadata key that pins a client to one subject
const MetaSubjectScope = "subject_id"

// ApiClient is a caller authenticated by API key. Clinician and back-office
// clients act for any subject; a subject-facing app is scoped to one subject
// through its metadata.
type ApiClient struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	ApiKey      string            `json:"-"`
	IsActive    bool              `json:"is_active"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUsedAt  *time.Time        `json:"last_used_at,omitempty"`
	Permissions []string          `json:"permissions"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HasPermission reports whether an active client holds the permission
func (c *ApiClient) HasPermission(required string) bool {
	if c == nil || !c.IsActive {
		return false
	}
	for _, perm := range c.Permissions {
		if grants(perm, required) {
			return true
		}
	}
	return false
}

func grants(perm, required string) bool {
	switch {
	case perm == "*", perm == required:
		return true
	case strings.HasSuffix(perm, ":*"):
		return strings.HasPrefix(required, strings.TrimSuffix(perm, "*"))
	}
	return false
}

// SubjectScope returns the subject the client is pinned to, or "" when unscoped
func (c *ApiClient) SubjectScope() string {
	if c == nil {
		return ""
	}
	return c.Metadata[MetaSubjectScope]
}

// CanActFor reports whether the client may read or write a subject's data
func (c *ApiClient) CanActFor(subjectID string) bool {
	scope := c.SubjectScope()
	return scope == "" || scope == subjectID
}

// MaskedApiKey returns the key prefix for logging
func (c *ApiClient) MaskedApiKey() string {
	return MaskKey(c.ApiKey)
}

// MaskKey keeps the first 8 characters of an API key
func MaskKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:8] + "..."
}
