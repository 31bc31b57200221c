package batchmeta

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archive/api/internal/archive"
	"archive/api/internal/client"
	"archive/api/internal/upload"
)

type fakeUpdater struct {
	failOn string
	saved  []string
	got    map[string]client.ItemUpdate
}

func (f *fakeUpdater) UpdateArchiveItem(_ context.Context, itemID string, update client.ItemUpdate) error {
	if itemID == f.failOn {
		return &client.TransportError{Action: client.ActionUpdateItem, Err: errors.New("timeout")}
	}
	if f.got == nil {
		f.got = map[string]client.ItemUpdate{}
	}
	f.saved = append(f.saved, itemID)
	f.got[itemID] = update
	return nil
}

func uploaded(ids ...string) []upload.Item {
	items := make([]upload.Item, 0, len(ids)+1)
	for _, id := range ids {
		result := archive.Contribution{ID: id, ItemType: archive.ItemImage}
		items = append(items, upload.Item{
			ID:       "upl_" + id,
			File:     upload.File{Name: id + ".jpg"},
			Status:   upload.StatusSucceeded,
			Progress: 100,
			Result:   &result,
		})
	}
	items = append(items, upload.Item{ID: "upl_failed", File: upload.File{Name: "bad.jpg"}, Status: upload.StatusFailed})
	return items
}

func TestNewRequiresASucceededUpload(t *testing.T) {
	_, err := New([]upload.Item{{ID: "upl_1", Status: upload.StatusFailed}}, &fakeUpdater{}, nil)
	assert.ErrorIs(t, err, ErrNothingUploaded)
}

func TestRecordsDefaultToDraftAndEmptyFields(t *testing.T) {
	c, err := New(uploaded("a", "b"), &fakeUpdater{}, nil)
	require.NoError(t, err)

	records := c.Records()
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, archive.VisibilityDraft, r.Visibility)
		assert.Empty(t, r.Title)
		assert.Empty(t, r.Description)
		assert.Empty(t, r.OccurredOn)
	}
	assert.Equal(t, "a.jpg", records[0].FileName)
}

func TestApplyToAllOverwritesEveryRecord(t *testing.T) {
	c, err := New(uploaded("a", "b", "c"), &fakeUpdater{}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Set("b", FieldVisibility, "public"))
	require.NoError(t, c.ApplyToAll(FieldVisibility, "family"))
	require.NoError(t, c.ApplyToAll(FieldDescription, "  Summer 1998 "))

	for _, r := range c.Records() {
		assert.Equal(t, archive.VisibilityFamily, r.Visibility)
		assert.Equal(t, "Summer 1998", r.Description)
	}
}

func TestInvalidValuesLeaveRecordsUntouched(t *testing.T) {
	c, err := New(uploaded("a", "b"), &fakeUpdater{}, nil)
	require.NoError(t, err)

	assert.Error(t, c.ApplyToAll(FieldVisibility, "everyone"))
	assert.ErrorIs(t, c.Set("zzz", FieldTitle, "x"), ErrUnknownRecord)
	assert.ErrorIs(t, c.Set("a", Field("colour"), "x"), ErrUnknownField)
	for _, r := range c.Records() {
		assert.Equal(t, archive.VisibilityDraft, r.Visibility)
	}
}

func TestSaveWritesSequentially(t *testing.T) {
	updater := &fakeUpdater{}
	c, err := New(uploaded("a", "b", "c"), updater, nil)
	require.NoError(t, err)
	require.NoError(t, c.Set("a", FieldTitle, "Graduation"))

	require.NoError(t, c.Save(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, updater.saved)
	require.NotNil(t, updater.got["a"].Title)
	assert.Equal(t, "Graduation", *updater.got["a"].Title)
	assert.Equal(t, archive.VisibilityDraft, *updater.got["c"].Visibility)
}

func TestSaveStopsAtFirstFailure(t *testing.T) {
	updater := &fakeUpdater{failOn: "b"}
	c, err := New(uploaded("a", "b", "c"), updater, nil)
	require.NoError(t, err)

	err = c.Save(context.Background())

	assert.ErrorIs(t, err, ErrSaveFailed)
	assert.Equal(t, []string{"a"}, updater.saved, "records after the failure must stay unsaved")
}

func TestParseField(t *testing.T) {
	f, err := ParseField(" Occurred_On ")
	require.NoError(t, err)
	assert.Equal(t, FieldOccurredOn, f)

	_, err = ParseField("status")
	assert.ErrorIs(t, err, ErrUnknownField)
}
