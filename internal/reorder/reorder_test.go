package reorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archive/api/internal/archive"
)

func fixture() []archive.Contribution {
	return []archive.Contribution{
		{ID: "A", ItemType: archive.ItemImage, DisplayOrder: 1},
		{ID: "D", ItemType: archive.ItemDocument, DisplayOrder: 1},
		{ID: "B", ItemType: archive.ItemImage, DisplayOrder: 2},
		{ID: "E", ItemType: archive.ItemDocument, DisplayOrder: 2},
		{ID: "C", ItemType: archive.ItemImage, DisplayOrder: 3},
	}
}

func orders(items []archive.Contribution) map[string]int {
	out := make(map[string]int, len(items))
	for _, item := range items {
		out[item.ID] = item.DisplayOrder
	}
	return out
}

func ids(items []archive.Contribution) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func TestMoveWithinImagesLeavesDocumentsAlone(t *testing.T) {
	items := fixture()

	moved, err := Move(items, archive.ItemImage, "C", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"C", "A", "B"}, ids(Partition(moved, archive.ItemImage)))
	got := orders(moved)
	assert.Equal(t, 1, got["C"])
	assert.Equal(t, 2, got["A"])
	assert.Equal(t, 3, got["B"])
	assert.Equal(t, 1, got["D"])
	assert.Equal(t, 2, got["E"])
	assert.Equal(t, []string{"D", "E"}, ids(Partition(moved, archive.ItemDocument)))

	// input is not mutated
	assert.Equal(t, 3, orders(items)["C"])
}

func TestMoveClampsTargetAndRejectsForeignID(t *testing.T) {
	moved, err := Move(fixture(), archive.ItemImage, "A", 99)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "A"}, ids(Partition(moved, archive.ItemImage)))

	_, err = Move(fixture(), archive.ItemImage, "D", 0)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestResequenceFillsGaps(t *testing.T) {
	items := []archive.Contribution{
		{ID: "A", ItemType: archive.ItemImage, DisplayOrder: 1},
		{ID: "C", ItemType: archive.ItemImage, DisplayOrder: 3},
		{ID: "E", ItemType: archive.ItemDocument, DisplayOrder: 2},
	}
	got := orders(Resequence(items))
	assert.Equal(t, map[string]int{"A": 1, "C": 2, "E": 1}, got)
}

func TestRanksFromOrderedIDs(t *testing.T) {
	ranks := Ranks(fixture(), []string{"C", "A", "B", "D", "E"})
	assert.Equal(t, map[string]int{"C": 1, "A": 2, "B": 3, "D": 1, "E": 2}, ranks)

	// unknown ids are ignored and unlisted items trail the listed ones
	ranks = Ranks(fixture(), []string{"zzz", "B"})
	assert.Equal(t, 1, ranks["B"])
	assert.Equal(t, 2, ranks["A"])
	assert.Equal(t, 3, ranks["C"])
}

func TestOrderedIDsGroupsPartitions(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, OrderedIDs(fixture()))
}

type fakePersister struct {
	mu    sync.Mutex
	err   error
	calls [][]string
}

func (f *fakePersister) ReorderArchiveItems(_ context.Context, _ string, orderedIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), orderedIDs...))
	return f.err
}

func TestBoardDropSendsFullListAndCommits(t *testing.T) {
	persister := &fakePersister{}
	board := NewBoard("profile-1", fixture(), persister)

	require.NoError(t, board.Drop(context.Background(), archive.ItemImage, "C", 0))

	require.Len(t, persister.calls, 1)
	assert.Equal(t, []string{"C", "A", "B", "D", "E"}, persister.calls[0])
	assert.Equal(t, []string{"C", "A", "B"}, ids(board.Partition(archive.ItemImage)))
	assert.Empty(t, board.Banner())
}

func TestBoardRollsBackOnFailureAndClearsBanner(t *testing.T) {
	persister := &fakePersister{}
	board := NewBoard("profile-1", fixture(), persister, WithBannerDelay(20*time.Millisecond))

	require.NoError(t, board.Drop(context.Background(), archive.ItemImage, "C", 0))
	persister.err = errors.New("backend down")

	err := board.Drop(context.Background(), archive.ItemImage, "B", 0)
	require.Error(t, err)

	// restored to the last known-good order, not the original fixture
	assert.Equal(t, []string{"C", "A", "B"}, ids(board.Partition(archive.ItemImage)))
	assert.Equal(t, orders(board.Items())["B"], 3)
	assert.NotEmpty(t, board.Banner())

	assert.Eventually(t, func() bool { return board.Banner() == "" }, time.Second, 5*time.Millisecond)
}

// gatedPersister blocks the first call until released and rejects the rest.
type gatedPersister struct {
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
	saved []string
}

func (g *gatedPersister) ReorderArchiveItems(_ context.Context, _ string, orderedIDs []string) error {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if !first {
		return errors.New("conflict")
	}
	close(g.entered)
	<-g.release
	g.mu.Lock()
	g.saved = append([]string(nil), orderedIDs...)
	g.mu.Unlock()
	return nil
}

func TestBoardOverlappingDropsSettleOnAcceptedOrder(t *testing.T) {
	persister := &gatedPersister{entered: make(chan struct{}), release: make(chan struct{})}
	board := NewBoard("profile-1", fixture(), persister, WithBannerDelay(time.Hour))

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- board.Drop(context.Background(), archive.ItemImage, "C", 0)
	}()
	<-persister.entered

	require.Error(t, board.Drop(context.Background(), archive.ItemImage, "B", 0))
	close(persister.release)
	require.NoError(t, <-firstDone)

	assert.Equal(t, []string{"C", "A", "B", "D", "E"}, persister.saved)
	assert.Equal(t, []string{"C", "A", "B"}, ids(board.Partition(archive.ItemImage)))
	assert.Equal(t, map[string]int{"C": 1, "A": 2, "B": 3, "D": 1, "E": 2}, orders(board.Items()))
}
