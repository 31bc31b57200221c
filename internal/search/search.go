package search

import (
	"archive/api/internal/archive"
	"archive/api/internal/rbac"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	ProfileID   string `json:"profile_id"`
	ProfileName string `json:"profile_name"`
	ItemType    string `json:"item_type"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text      string
	ProfileID string // empty = all profiles
	ItemType  string // empty = all types
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search action.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push records into a search index.
type Indexer interface {
	IndexItem(r ItemRecord) error
	IndexItems(records []ItemRecord) error
	DeleteItem(id string) error
}

// ItemRecord is the data we index for a publicly disclosable contribution.
type ItemRecord struct {
	ID          string `json:"id"`
	ProfileID   string `json:"profileId"`
	ProfileName string `json:"profileName"`
	ItemType    string `json:"itemType"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Body        string `json:"body"`
	OccurredOn  string `json:"occurredOn"`
}

// RecordFor builds the index record for item. ok is false when an anonymous
// viewer could not see the item, in which case it must not be indexed.
func RecordFor(profile archive.Profile, item archive.Contribution) (ItemRecord, bool) {
	if !rbac.CanView(rbac.RolePublic, item.Status, item.Visibility) {
		return ItemRecord{}, false
	}
	return ItemRecord{
		ID:          item.ID,
		ProfileID:   item.ProfileID,
		ProfileName: profile.Name,
		ItemType:    string(item.ItemType),
		Title:       item.Title,
		Description: item.Description,
		Body:        item.Body,
		OccurredOn:  item.OccurredOn,
	}, true
}
