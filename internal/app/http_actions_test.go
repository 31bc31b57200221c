package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"archive/api/internal/archive"
	"archive/api/internal/blob"
	"archive/api/internal/client"
	"archive/api/internal/config"
	"archive/api/internal/store"
)

type actionHarness struct {
	server  *httptest.Server
	store   *store.MemoryStore
	owner   *client.Client
	steward *client.Client
	anon    *client.Client
	profile string
}

func newActionHarness(t *testing.T) *actionHarness {
	t.Helper()
	st := store.NewMemoryStore()
	svc := New(config.Config{
		TokenSecret:  "test-secret",
		TokenTTL:     time.Hour,
		SignedURLTTL: 10 * time.Minute,
		Policy:       config.DefaultIngestPolicy(),
	}, st, blob.NewMemory("http://blobs.test"), WithLogger(discardLogger()))
	srv := httptest.NewServer(NewHTTPServer(svc, "*", discardLogger()).Handler())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	anon := client.New(srv.URL, "", client.WithLogger(discardLogger()))
	stewardSession, err := anon.Login(ctx, "Sam", "sam@example.com", "steward")
	if err != nil {
		t.Fatalf("steward login: %v", err)
	}
	ownerSession, err := anon.Login(ctx, "Ada", "ada@example.com", "owner")
	if err != nil {
		t.Fatalf("owner login: %v", err)
	}
	if ownerSession.ProfileID == "" {
		t.Fatal("owner login should return a profile id")
	}

	return &actionHarness{
		server:  srv,
		store:   st,
		owner:   client.New(srv.URL, ownerSession.Token, client.WithLogger(discardLogger())),
		steward: client.New(srv.URL, stewardSession.Token, client.WithLogger(discardLogger())),
		anon:    anon,
		profile: ownerSession.ProfileID,
	}
}

func TestActionRoundTripThroughReview(t *testing.T) {
	h := newActionHarness(t)
	ctx := context.Background()

	name := "Ada Lovelace"
	intro := strings.Repeat("Notes on the analytical engine. ", 3)
	if err := h.owner.UpdateProfile(ctx, h.profile, client.ProfileUpdate{Name: &name, Introduction: &intro}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	item, err := h.owner.UploadArchiveItem(ctx, client.UploadRequest{
		ProfileID:  h.profile,
		FileName:   "engine.png",
		FileType:   "image/png",
		FileData:   base64.StdEncoding.EncodeToString([]byte("png bytes")),
		Visibility: archive.VisibilityPublic,
	})
	if err != nil {
		t.Fatalf("UploadArchiveItem() error = %v", err)
	}
	if item.ItemType != archive.ItemImage || item.DisplayOrder != 1 {
		t.Fatalf("uploaded item = %+v", item)
	}

	submitted, err := h.owner.SubmitProfileForReview(ctx, h.profile)
	if err != nil {
		t.Fatalf("SubmitProfileForReview() error = %v", err)
	}
	if len(submitted.StewardsToNotify) != 1 || submitted.SubmittedAt.IsZero() {
		t.Fatalf("submit result = %+v", submitted)
	}

	title := "Too late"
	err = h.owner.UpdateArchiveItem(ctx, item.ID, client.ItemUpdate{Title: &title})
	if !client.IsCode(err, CodeItemLocked) {
		t.Fatalf("UpdateArchiveItem() error = %v, want %s", err, CodeItemLocked)
	}

	if _, err := h.owner.ReviewProfile(ctx, h.profile, "approve", ""); !client.IsCode(err, CodeForbidden) {
		t.Fatalf("owner review error = %v, want %s", err, CodeForbidden)
	}
	profile, err := h.steward.ReviewProfile(ctx, h.profile, "approve", "")
	if err != nil {
		t.Fatalf("ReviewProfile() error = %v", err)
	}
	if profile.Status != archive.StatusApproved {
		t.Fatalf("profile status = %s", profile.Status)
	}

	public, err := h.anon.ListArchiveItems(ctx, h.profile, "public")
	if err != nil {
		t.Fatalf("ListArchiveItems() error = %v", err)
	}
	if len(public) != 1 || public[0].ID != item.ID {
		t.Fatalf("public listing = %+v", public)
	}

	url, err := h.anon.ItemURL(ctx, item.ID)
	if err != nil {
		t.Fatalf("ItemURL() error = %v", err)
	}
	if !strings.HasPrefix(url, "http://blobs.test/") {
		t.Fatalf("signed url = %s", url)
	}
}

func TestActionErrorsUseEnvelope(t *testing.T) {
	h := newActionHarness(t)
	ctx := context.Background()

	err := h.owner.Call(ctx, "drop_tables", map[string]string{}, nil)
	if !client.IsCode(err, CodeUnknownAction) {
		t.Fatalf("unknown action error = %v", err)
	}

	_, err = h.owner.UploadArchiveItem(ctx, client.UploadRequest{
		ProfileID: h.profile,
		FileName:  "clip.mp4",
		FileType:  "video/mp4",
		FileData:  base64.StdEncoding.EncodeToString([]byte("mp4")),
	})
	if !client.IsCode(err, CodeUnsupportedType) {
		t.Fatalf("upload error = %v, want %s", err, CodeUnsupportedType)
	}

	_, err = h.owner.SubmitProfileForReview(ctx, h.profile)
	if !client.IsCode(err, CodeProfileIncomplete) {
		t.Fatalf("submit error = %v, want %s", err, CodeProfileIncomplete)
	}

	err = h.anon.DeleteArchiveItem(ctx, "itm_missing")
	if !client.IsCode(err, CodeUnauthorized) {
		t.Fatalf("anonymous delete error = %v, want %s", err, CodeUnauthorized)
	}

	err = h.owner.DeleteArchiveItem(ctx, "itm_missing")
	if !client.IsCode(err, CodeNotFound) {
		t.Fatalf("missing delete error = %v, want %s", err, CodeNotFound)
	}

	expired := client.New(h.server.URL, "garbage.token", client.WithLogger(discardLogger()))
	if _, err := expired.GetProfile(ctx, h.profile); !client.IsCode(err, CodeUnauthorized) {
		t.Fatalf("bad token error = %v, want %s", err, CodeUnauthorized)
	}
}

func TestActionFailureBodyShape(t *testing.T) {
	h := newActionHarness(t)

	body, _ := json.Marshal(map[string]any{"action": "get_profile", "payload": map[string]string{}})
	resp, err := http.Post(h.server.URL+"/api/actions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var reply map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply["success"] != false || reply["error"] != CodeUnauthorized {
		t.Fatalf("reply = %v", reply)
	}
}

func TestInMemoryAttachmentsAreServedUnderBlobPrefix(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory("http://archive.test/blobs")
	svc := New(config.Config{
		TokenSecret:  "test-secret",
		TokenTTL:     time.Hour,
		SignedURLTTL: 10 * time.Minute,
		Policy:       config.DefaultIngestPolicy(),
	}, store.NewMemoryStore(), blobs, WithLogger(discardLogger()))
	server := NewHTTPServer(svc, "*", discardLogger())
	server.ServeBlobs("/blobs", blobs)

	if err := blobs.Put(ctx, "prf_1/itm_1.png", strings.NewReader("png"), 3, "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	signed, err := blobs.SignedURL(ctx, "prf_1/itm_1.png", time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "png" {
		t.Fatalf("GET %s = %d %q", u.RequestURI(), rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/elsewhere/prf_1/itm_1.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unmounted path status = %d, want 404", rec.Code)
	}
}
