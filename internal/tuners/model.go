package tuners

import (
	"sort"
	"strings"
	"time"
)

// Size categories accepted for a tuner.
const (
	Size16          = "16"
	Size32          = "32"
	Size64          = "64"
	Size128         = "128"
	SizeNonstandard = "nonstandard"

	defaultSize   = Size16
	defaultPrompt = "No prompt provided"
)

// SizeCategories lists the accepted size values in display order.
var SizeCategories = []string{Size16, Size32, Size64, Size128, SizeNonstandard}

// Tuner is the primary content record.
type Tuner struct {
	ID       string    `json:"id"`
	AuthorID string    `json:"authorId"`
	Prompt   string    `json:"prompt"`
	URL      string    `json:"url"`
	Size     string    `json:"size"`
	Comments []Comment `json:"comments"`
	Likes    int64     `json:"likes"`
}

// Comment is a snapshot of the commenting user's identity plus the comment text.
type Comment struct {
	CommentID string    `json:"commentId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"pfp"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TunerDraft carries the user supplied fields of a new tuner.
type TunerDraft struct {
	AuthorID string
	Prompt   string
	URL      string
	Size     string
}

// TunerPatch carries the user editable fields of an existing tuner. Nil fields are left untouched.
type TunerPatch struct {
	Prompt *string
	URL    *string
	Size   *string
}

// CommentDraft carries a new comment before an id and timestamp are assigned.
type CommentDraft struct {
	UserID    string
	Username  string
	AvatarURL string
	Text      string
}

// Identity is the resolved requester. The zero value is anonymous.
type Identity struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	AvatarURL       string `json:"pfp"`
	IsAdmin         bool   `json:"isAdmin"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// Anonymous returns the identity used when no session could be resolved.
func Anonymous() Identity {
	return Identity{}
}

// Authenticated reports whether the identity can be attributed to a user.
func (i Identity) Authenticated() bool {
	return i.IsAuthenticated && strings.TrimSpace(i.ID) != ""
}

// IDSet is a set of record identifiers.
type IDSet map[string]struct{}

// NewIDSet builds a set from the provided identifiers, skipping blanks.
func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id and reports whether the set changed.
func (s IDSet) Add(id string) bool {
	if s.Has(id) {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether the set changed.
func (s IDSet) Remove(id string) bool {
	if !s.Has(id) {
		return false
	}
	delete(s, id)
	return true
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isKnownSize(size string) bool {
	for _, candidate := range SizeCategories {
		if candidate == size {
			return true
		}
	}
	return false
}
