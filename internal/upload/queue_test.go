package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archive/api/internal/archive"
	"archive/api/internal/client"
)

type fakeUploader struct {
	mu          sync.Mutex
	delay       time.Duration
	failFirst   map[string]int
	calls       map[string]int
	inflight    int
	maxInflight int
	requests    []client.UploadRequest
}

func newFakeUploader(delay time.Duration) *fakeUploader {
	return &fakeUploader{delay: delay, failFirst: map[string]int{}, calls: map[string]int{}}
}

func (f *fakeUploader) UploadArchiveItem(_ context.Context, req client.UploadRequest) (archive.Contribution, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.calls[req.FileName]++
	attempt := f.calls[req.FileName]
	fail := attempt <= f.failFirst[req.FileName]
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
	if fail {
		return archive.Contribution{}, &client.TransportError{Action: client.ActionUploadItem, Err: errors.New("connection reset")}
	}
	return archive.Contribution{
		ID:         "itm_" + req.FileName,
		ProfileID:  req.ProfileID,
		ItemType:   archive.ItemTypeForMime(req.FileType),
		Title:      req.Title,
		Visibility: req.Visibility,
		Review:     archive.Review{Status: archive.StatusDraft},
	}, nil
}

func (f *fakeUploader) callsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

type transition struct {
	id       string
	status   Status
	progress int
}

// recorder logs every item whose status or progress changed between snapshots.
type recorder struct {
	mu    sync.Mutex
	last  map[string]Item
	log   []transition
	maxUp int
}

func newRecorder() *recorder {
	return &recorder{last: map[string]Item{}}
}

func (r *recorder) observe(items []Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uploading := 0
	for _, item := range items {
		if item.Status == StatusUploading {
			uploading++
		}
		prev, seen := r.last[item.ID]
		if !seen || prev.Status != item.Status || prev.Progress != item.Progress {
			r.log = append(r.log, transition{id: item.ID, status: item.Status, progress: item.Progress})
		}
		r.last[item.ID] = item
	}
	if uploading > r.maxUp {
		r.maxUp = uploading
	}
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = nil
}

func (r *recorder) statusesFor(id string) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, tr := range r.log {
		if tr.id != id {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != tr.status {
			out = append(out, tr.status)
		}
	}
	return out
}

func (r *recorder) progressFor(id string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, tr := range r.log {
		if tr.id == id {
			out = append(out, tr.progress)
		}
	}
	return out
}

func jpeg(name string) File {
	return BytesFile(name, "image/jpeg", []byte("jpeg-bytes-"+name))
}

func idByName(items []Item, name string) string {
	for _, item := range items {
		if item.File.Name == name {
			return item.ID
		}
	}
	return ""
}

func statusByName(items []Item) map[string]Status {
	out := make(map[string]Status, len(items))
	for _, item := range items {
		out[item.File.Name] = item.Status
	}
	return out
}

func TestAtMostTwoItemsUploadAtOnce(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 10} {
		t.Run(fmt.Sprintf("batch of %d", n), func(t *testing.T) {
			uploader := newFakeUploader(15 * time.Millisecond)
			rec := newRecorder()
			ctrl := NewController("prf_1", uploader, OnChange(rec.observe))

			files := make([]File, n)
			for i := range files {
				files[i] = jpeg(fmt.Sprintf("photo-%02d.jpg", i))
			}
			require.True(t, ctrl.Enqueue(files).Empty())

			final := ctrl.Run(context.Background())

			assert.Equal(t, n, Counts(final)[StatusSucceeded])
			assert.LessOrEqual(t, rec.maxUp, 2)
			assert.LessOrEqual(t, uploader.maxInflight, 2)
			if n >= 2 {
				assert.Equal(t, 2, uploader.maxInflight, "pool should keep both workers busy")
			}
			for _, item := range final {
				assert.Equal(t, 100, item.Progress)
				require.NotNil(t, item.Result)
			}
		})
	}
}

func TestMixedBatchRejectsWithoutNetworkCalls(t *testing.T) {
	uploader := newFakeUploader(0)
	ctrl := NewController("prf_1", uploader)

	oversized := File{
		Name: "scan.png",
		Type: "image/png",
		Size: 9 * 1024 * 1024,
		Open: func() (io.ReadCloser, error) { return nil, errors.New("must not be read") },
	}
	notes := BytesFile("notes.txt", "text/plain", []byte("hello"))

	notice := ctrl.Enqueue([]File{jpeg("a.jpg"), oversized, jpeg("b.jpg"), notes, jpeg("c.jpg")})

	queued := ctrl.Snapshot()
	require.Len(t, queued, 3)
	for _, item := range queued {
		assert.Equal(t, StatusPending, item.Status)
		assert.Equal(t, 0, item.Progress)
	}

	require.Len(t, notice.Lines, 2)
	assert.True(t, strings.HasPrefix(notice.Lines[0], "scan.png:"), notice.Lines[0])
	assert.Contains(t, notice.Lines[0], "8 MB")
	assert.True(t, strings.HasPrefix(notice.Lines[1], "notes.txt:"), notice.Lines[1])
	assert.Contains(t, notice.Lines[1], "text/plain")
	assert.Equal(t, notice.Lines[0]+"\n"+notice.Lines[1], notice.String())

	ctrl.Run(context.Background())

	assert.Equal(t, 0, uploader.callsFor("scan.png"))
	assert.Equal(t, 0, uploader.callsFor("notes.txt"))
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		assert.Equal(t, 1, uploader.callsFor(name), name)
	}
}

func TestAllowedTypesAndSizeBoundary(t *testing.T) {
	p := DefaultPolicy()
	for _, mimeType := range []string{"image/jpeg", "image/jpg", "image/png", "image/webp", "application/pdf", "IMAGE/PNG"} {
		assert.NoError(t, p.Validate(File{Name: "f", Type: mimeType, Size: 1}), mimeType)
	}
	for _, mimeType := range []string{"image/gif", "text/plain", "", "application/zip"} {
		assert.Error(t, p.Validate(File{Name: "f", Type: mimeType, Size: 1}), mimeType)
	}
	assert.NoError(t, p.Validate(File{Name: "f", Type: "image/png", Size: 8 * 1024 * 1024}))
	assert.Error(t, p.Validate(File{Name: "f", Type: "image/png", Size: 8*1024*1024 + 1}))
}

func TestBatchCapDropsExtraFiles(t *testing.T) {
	ctrl := NewController("prf_1", newFakeUploader(0))

	files := make([]File, 12)
	for i := range files {
		files[i] = jpeg(fmt.Sprintf("p%02d.jpg", i))
	}
	notice := ctrl.Enqueue(files)

	require.Len(t, ctrl.Snapshot(), 10)
	require.Len(t, notice.Lines, 1)
	assert.Contains(t, notice.Lines[0], "10 files")
	assert.Contains(t, notice.Lines[0], "2 extra files")
	assert.Equal(t, "p09.jpg", ctrl.Snapshot()[9].File.Name)
}

func TestFailedItemDoesNotBlockTheLoop(t *testing.T) {
	uploader := newFakeUploader(time.Millisecond)
	uploader.failFirst["b.jpg"] = 1
	var uploaded []archive.Contribution
	var mu sync.Mutex
	ctrl := NewController("prf_1", uploader, OnUploaded(func(c archive.Contribution) {
		mu.Lock()
		defer mu.Unlock()
		uploaded = append(uploaded, c)
	}))

	ctrl.Enqueue([]File{jpeg("a.jpg"), jpeg("b.jpg"), jpeg("c.jpg"), jpeg("d.jpg")})
	final := ctrl.Run(context.Background())

	statuses := statusByName(final)
	assert.Equal(t, StatusFailed, statuses["b.jpg"])
	assert.Equal(t, StatusSucceeded, statuses["a.jpg"])
	assert.Equal(t, StatusSucceeded, statuses["c.jpg"])
	assert.Equal(t, StatusSucceeded, statuses["d.jpg"])

	for _, item := range final {
		if item.Status == StatusFailed {
			assert.Equal(t, 0, item.Progress)
			assert.NotEmpty(t, item.Error)
			assert.Nil(t, item.Result)
		}
	}
	mu.Lock()
	assert.Len(t, uploaded, 3)
	mu.Unlock()
}

func TestProgressIsMonotonicWithinALifecycle(t *testing.T) {
	rec := newRecorder()
	ctrl := NewController("prf_1", newFakeUploader(time.Millisecond), OnChange(rec.observe))
	ctrl.Enqueue([]File{jpeg("a.jpg"), jpeg("b.jpg"), jpeg("c.jpg")})

	final := ctrl.Run(context.Background())

	for _, item := range final {
		assert.Equal(t, []int{0, 10, 40, 90, 100}, rec.progressFor(item.ID), item.File.Name)
		assert.Equal(t, []Status{StatusPending, StatusUploading, StatusSucceeded}, rec.statusesFor(item.ID))
	}
}

func TestRetryOneItemLeavesSiblingsAlone(t *testing.T) {
	uploader := newFakeUploader(time.Millisecond)
	uploader.failFirst["b.jpg"] = 1
	uploader.failFirst["c.jpg"] = 5
	rec := newRecorder()
	ctrl := NewController("prf_1", uploader, OnChange(rec.observe))
	ctrl.Enqueue([]File{jpeg("a.jpg"), jpeg("b.jpg"), jpeg("c.jpg")})
	before := ctrl.Run(context.Background())
	rec.reset()

	id := idByName(before, "b.jpg")
	item, err := ctrl.Retry(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, item.Status)
	assert.Equal(t, []Status{StatusPending, StatusUploading, StatusSucceeded}, rec.statusesFor(id))

	after := ctrl.Snapshot()
	for i := range before {
		if before[i].ID == id {
			continue
		}
		assert.Equal(t, before[i].Status, after[i].Status, before[i].File.Name)
		assert.Equal(t, before[i].Progress, after[i].Progress, before[i].File.Name)
		assert.Empty(t, rec.statusesFor(before[i].ID), "sibling %s changed", before[i].File.Name)
	}
	assert.Equal(t, 1, uploader.callsFor("a.jpg"))
	assert.Equal(t, 1, uploader.callsFor("c.jpg"))
}

func TestRetryRejectsItemsThatAreNotFailed(t *testing.T) {
	ctrl := NewController("prf_1", newFakeUploader(0))
	ctrl.Enqueue([]File{jpeg("a.jpg")})
	final := ctrl.Run(context.Background())

	_, err := ctrl.Retry(context.Background(), final[0].ID)
	assert.ErrorIs(t, err, ErrNotRetryable)

	_, err = ctrl.Retry(context.Background(), "upl_missing")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

// RetryFailed hands the pool the whole queue. Succeeded items must still never
// go back through uploading.
func TestRetryFailedNeverReuploadsSucceededItems(t *testing.T) {
	uploader := newFakeUploader(2 * time.Millisecond)
	uploader.failFirst["b.jpg"] = 1
	uploader.failFirst["d.jpg"] = 1
	rec := newRecorder()
	ctrl := NewController("prf_1", uploader, OnChange(rec.observe))
	ctrl.Enqueue([]File{jpeg("a.jpg"), jpeg("b.jpg"), jpeg("c.jpg"), jpeg("d.jpg"), jpeg("e.jpg")})

	first := ctrl.Run(context.Background())
	require.Equal(t, 2, Counts(first)[StatusFailed])
	rec.reset()

	final := ctrl.RetryFailed(context.Background())

	assert.Equal(t, 5, Counts(final)[StatusSucceeded])
	for _, name := range []string{"a.jpg", "c.jpg", "e.jpg"} {
		assert.Empty(t, rec.statusesFor(idByName(first, name)), "%s was re-processed", name)
		assert.Equal(t, 1, uploader.callsFor(name), name)
	}
	for _, name := range []string{"b.jpg", "d.jpg"} {
		assert.Equal(t, []Status{StatusPending, StatusUploading, StatusSucceeded}, rec.statusesFor(idByName(first, name)), name)
		assert.Equal(t, 2, uploader.callsFor(name), name)
	}
	assert.LessOrEqual(t, rec.maxUp, 2)
}

func TestUnreadableFileFailsWithoutNetworkCall(t *testing.T) {
	uploader := newFakeUploader(0)
	ctrl := NewController("prf_1", uploader)
	broken := File{
		Name: "gone.pdf",
		Type: "application/pdf",
		Size: 10,
		Open: func() (io.ReadCloser, error) { return nil, errors.New("file moved") },
	}
	ctrl.Enqueue([]File{broken})

	final := ctrl.Run(context.Background())

	require.Len(t, final, 1)
	assert.Equal(t, StatusFailed, final[0].Status)
	assert.Contains(t, final[0].Error, "couldn't read")
	assert.Equal(t, 0, uploader.callsFor("gone.pdf"))
}

func TestUploadRequestCarriesEncodedPayload(t *testing.T) {
	uploader := newFakeUploader(0)
	ctrl := NewController("prf_9", uploader)
	ctrl.Enqueue([]File{BytesFile("Family Picnic.png", "image/png", []byte("abc"))})
	ctrl.Run(context.Background())

	require.Len(t, uploader.requests, 1)
	req := uploader.requests[0]
	assert.Equal(t, "prf_9", req.ProfileID)
	assert.Equal(t, "YWJj", req.FileData)
	assert.Equal(t, int64(3), req.FileSize)
	assert.Equal(t, "Family Picnic", req.Title)
	assert.Equal(t, archive.VisibilityDraft, req.Visibility)
}

func TestCancelledContextStopsClaiming(t *testing.T) {
	uploader := newFakeUploader(0)
	ctrl := NewController("prf_1", uploader)
	ctrl.Enqueue([]File{jpeg("a.jpg"), jpeg("b.jpg")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	final := ctrl.Run(ctx)

	assert.Equal(t, 2, Counts(final)[StatusPending])
	assert.Equal(t, 0, uploader.callsFor("a.jpg"))
}
