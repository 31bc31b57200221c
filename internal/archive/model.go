// Package archive holds the profile and contribution model shared by the
// backend and the owner-side client.
package archive

import (
	"fmt"
	"strings"
	"time"
)

type ItemType string

const (
	ItemImage    ItemType = "image"
	ItemDocument ItemType = "document"
	ItemText     ItemType = "text"
	ItemMoment   ItemType = "moment"
	ItemPerson   ItemType = "person"
)

var itemTypes = []ItemType{ItemImage, ItemDocument, ItemText, ItemMoment, ItemPerson}

// ParseItemType converts a wire value into a known ItemType.
func ParseItemType(value string) (ItemType, error) {
	normalized := ItemType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range itemTypes {
		if normalized == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown item type %q", value)
}

// ItemTypeForMime maps an uploaded file's mime type to the partition it lands in.
func ItemTypeForMime(mimeType string) ItemType {
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return ItemImage
	}
	return ItemDocument
}

// Status is the review lifecycle state shared by profiles and contributions.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusSubmitted    Status = "submitted_for_review"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusNeedsChanges Status = "needs_changes"
)

var statuses = []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusRejected, StatusNeedsChanges}

func ParseStatus(value string) (Status, error) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range statuses {
		if normalized == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", value)
}

// OwnerMutable reports whether the owner may edit content in this state.
func (s Status) OwnerMutable() bool {
	switch s {
	case StatusDraft, StatusRejected, StatusNeedsChanges:
		return true
	default:
		return false
	}
}

// Visibility is an ordered disclosure tier. The zero value is VisibilityDraft.
type Visibility int

const (
	VisibilityDraft Visibility = iota
	VisibilityFamily
	VisibilityConnections
	VisibilityPublic
)

var visibilityNames = []string{"draft", "family", "connections", "public"}

// Visibilities returns every level from most to least restrictive.
func Visibilities() []Visibility {
	out := make([]Visibility, len(visibilityNames))
	for i := range visibilityNames {
		out[i] = Visibility(i)
	}
	return out
}

func ParseVisibility(value string) (Visibility, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for i, name := range visibilityNames {
		if name == normalized {
			return Visibility(i), nil
		}
	}
	return VisibilityDraft, fmt.Errorf("unknown visibility %q", value)
}

func (v Visibility) String() string {
	if v < 0 || int(v) >= len(visibilityNames) {
		return fmt.Sprintf("visibility(%d)", int(v))
	}
	return visibilityNames[v]
}

func (v Visibility) Valid() bool {
	return v >= 0 && int(v) < len(visibilityNames)
}

func (v Visibility) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("invalid visibility %d", int(v))
	}
	return []byte(v.String()), nil
}

func (v *Visibility) UnmarshalText(text []byte) error {
	parsed, err := ParseVisibility(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Review carries the lifecycle fields common to profiles and contributions.
type Review struct {
	Status       Status     `json:"status"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	ReviewerNote string     `json:"reviewer_note,omitempty"`
}

// Locked reports whether the owner is currently barred from editing.
func (r Review) Locked() bool {
	return r.Status == StatusSubmitted
}

type Attachment struct {
	StoragePath string `json:"storage_path"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Link references another entity. Unconfirmed links are free-text suggestions
// that are never checked against any registry.
type Link struct {
	Label     string `json:"label"`
	TargetID  string `json:"target_id,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

type Contribution struct {
	ID           string      `json:"id"`
	ProfileID    string      `json:"profile_id"`
	ItemType     ItemType    `json:"item_type"`
	Visibility   Visibility  `json:"visibility"`
	DisplayOrder int         `json:"display_order"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Body         string      `json:"body,omitempty"`
	OccurredOn   string      `json:"occurred_on,omitempty"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	Links        []Link      `json:"links,omitempty"`
	Review
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Profile struct {
	ID           string   `json:"id"`
	OwnerID      string   `json:"owner_id"`
	Name         string   `json:"name"`
	Introduction string   `json:"introduction"`
	StewardIDs   []string `json:"steward_ids,omitempty"`
	Review
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no slices or pointers with c.
func (c Contribution) Clone() Contribution {
	out := c
	if c.Attachment != nil {
		attachment := *c.Attachment
		out.Attachment = &attachment
	}
	if c.Links != nil {
		out.Links = append([]Link(nil), c.Links...)
	}
	out.Review = c.Review.clone()
	return out
}

func (p Profile) Clone() Profile {
	out := p
	if p.StewardIDs != nil {
		out.StewardIDs = append([]string(nil), p.StewardIDs...)
	}
	out.Review = p.Review.clone()
	return out
}

func (r Review) clone() Review {
	out := r
	out.SubmittedAt = cloneTime(r.SubmittedAt)
	out.ApprovedAt = cloneTime(r.ApprovedAt)
	out.RejectedAt = cloneTime(r.RejectedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CloneAll copies a slice of contributions.
func CloneAll(items []Contribution) []Contribution {
	if items == nil {
		return nil
	}
	out := make([]Contribution, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
