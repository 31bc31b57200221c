// Package client talks to the archive backend through its action envelope.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"archive/api/internal/archive"
)

const (
	ActionUploadItem       = "upload_archive_item"
	ActionAddItem          = "add_archive_item"
	ActionUpdateItem       = "update_archive_item"
	ActionDeleteItem       = "delete_archive_item"
	ActionReorderItems     = "reorder_archive_items"
	ActionListItems        = "list_archive_items"
	ActionItemURL          = "get_item_url"
	ActionReviewItem       = "review_archive_item"
	ActionGetProfile       = "get_profile"
	ActionUpdateProfile    = "update_profile"
	ActionSubmitProfile    = "submit_profile_for_review"
	ActionWithdraw         = "withdraw_submission"
	ActionReviewProfile    = "review_profile"
	ActionSendNotification = "send_notification"
	ActionSearch           = "search_archive"
)

// NotificationProfileSubmitted is the notification type sent after a
// successful submission.
const NotificationProfileSubmitted = "profile_submitted"

type request struct {
	Action  string `json:"action"`
	Payload any    `json:"payload"`
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// Client calls the backend. Calls carry no timeout of their own; cancel the
// context to abandon one.
type Client struct {
	baseURL  string
	endpoint string
	token    string
	http     *http.Client
	logger   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(baseURL, token string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL:  base,
		endpoint: base + "/api/actions",
		token:    token,
		http:     &http.Client{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call posts {action, payload} and decodes a successful reply into out.
func (c *Client) Call(ctx context.Context, action string, payload any, out any) error {
	body, err := json.Marshal(request{Action: action, Payload: payload})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Action: action, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("action failed", slog.String("action", action), slog.String("error", err.Error()))
		return &TransportError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Action: action, Err: fmt.Errorf("read response: %w", err)}
	}
	c.logger.Debug("action completed",
		slog.String("action", action),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(started)),
	)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &TransportError{Action: action, Err: fmt.Errorf("decode envelope (status %d): %w", resp.StatusCode, err)}
	}
	if !env.Success {
		code := env.Error
		if code == "" {
			code = http.StatusText(resp.StatusCode)
		}
		return &ApplicationError{Action: action, Code: code, Detail: env.Detail}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Action: action, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

// UploadRequest is the payload of upload_archive_item. FileData holds the
// base64 encoded bytes.
type UploadRequest struct {
	ProfileID   string             `json:"profile_id"`
	FileName    string             `json:"file_name"`
	FileType    string             `json:"file_type"`
	FileSize    int64              `json:"file_size"`
	FileData    string             `json:"file_data"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Visibility  archive.Visibility `json:"visibility"`
}

func (c *Client) UploadArchiveItem(ctx context.Context, req UploadRequest) (archive.Contribution, error) {
	var out struct {
		Item archive.Contribution `json:"item"`
	}
	if err := c.Call(ctx, ActionUploadItem, req, &out); err != nil {
		return archive.Contribution{}, err
	}
	return out.Item, nil
}

// ItemUpdate carries the fields to change; nil fields are left alone.
type ItemUpdate struct {
	Title       *string             `json:"title,omitempty"`
	Description *string             `json:"description,omitempty"`
	Body        *string             `json:"body,omitempty"`
	OccurredOn  *string             `json:"occurred_on,omitempty"`
	Visibility  *archive.Visibility `json:"visibility,omitempty"`
	Links       []archive.Link      `json:"links,omitempty"`
}

func (c *Client) UpdateArchiveItem(ctx context.Context, itemID string, update ItemUpdate) error {
	payload := struct {
		ItemID string `json:"item_id"`
		ItemUpdate
	}{ItemID: itemID, ItemUpdate: update}
	return c.Call(ctx, ActionUpdateItem, payload, nil)
}

func (c *Client) DeleteArchiveItem(ctx context.Context, itemID string) error {
	return c.Call(ctx, ActionDeleteItem, map[string]string{"item_id": itemID}, nil)
}

func (c *Client) ReorderArchiveItems(ctx context.Context, profileID string, orderedIDs []string) error {
	payload := struct {
		ProfileID      string   `json:"profile_id"`
		OrderedItemIDs []string `json:"ordered_item_ids"`
	}{ProfileID: profileID, OrderedItemIDs: orderedIDs}
	return c.Call(ctx, ActionReorderItems, payload, nil)
}

// ListArchiveItems returns the items of a profile as disclosed to viewerRole.
func (c *Client) ListArchiveItems(ctx context.Context, profileID, viewerRole string) ([]archive.Contribution, error) {
	var out struct {
		Items []archive.Contribution `json:"items"`
	}
	payload := map[string]string{"profile_id": profileID, "viewer_role": viewerRole}
	if err := c.Call(ctx, ActionListItems, payload, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) ItemURL(ctx context.Context, itemID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.Call(ctx, ActionItemURL, map[string]string{"item_id": itemID}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) ReviewArchiveItem(ctx context.Context, itemID, decision, note string) (archive.Contribution, error) {
	var out struct {
		Item archive.Contribution `json:"item"`
	}
	payload := map[string]string{"item_id": itemID, "decision": decision, "note": note}
	if err := c.Call(ctx, ActionReviewItem, payload, &out); err != nil {
		return archive.Contribution{}, err
	}
	return out.Item, nil
}

func (c *Client) GetProfile(ctx context.Context, profileID string) (archive.Profile, error) {
	var out struct {
		Profile archive.Profile `json:"profile"`
	}
	if err := c.Call(ctx, ActionGetProfile, map[string]string{"profile_id": profileID}, &out); err != nil {
		return archive.Profile{}, err
	}
	return out.Profile, nil
}

// ProfileView is a profile with its items and submission readiness.
type ProfileView struct {
	Profile   archive.Profile        `json:"profile"`
	Items     []archive.Contribution `json:"items"`
	Readiness struct {
		Ready   bool     `json:"ready"`
		Unmet   []string `json:"unmet"`
		Message string   `json:"message"`
	} `json:"readiness"`
}

// LoadProfile fetches a profile together with its items. An empty profileID
// loads the caller's own profile.
func (c *Client) LoadProfile(ctx context.Context, profileID string) (ProfileView, error) {
	var out ProfileView
	if err := c.Call(ctx, ActionGetProfile, map[string]string{"profile_id": profileID}, &out); err != nil {
		return ProfileView{}, err
	}
	return out, nil
}

type ProfileUpdate struct {
	Name         *string `json:"name,omitempty"`
	Introduction *string `json:"introduction,omitempty"`
}

func (c *Client) UpdateProfile(ctx context.Context, profileID string, update ProfileUpdate) error {
	payload := struct {
		ProfileID string `json:"profile_id"`
		ProfileUpdate
	}{ProfileID: profileID, ProfileUpdate: update}
	return c.Call(ctx, ActionUpdateProfile, payload, nil)
}

type SubmitResult struct {
	SubmittedAt      time.Time `json:"submitted_at"`
	StewardsToNotify []string  `json:"stewards_to_notify"`
}

func (c *Client) SubmitProfileForReview(ctx context.Context, profileID string) (SubmitResult, error) {
	var out SubmitResult
	if err := c.Call(ctx, ActionSubmitProfile, map[string]string{"profile_id": profileID}, &out); err != nil {
		return SubmitResult{}, err
	}
	return out, nil
}

func (c *Client) WithdrawSubmission(ctx context.Context, profileID string) error {
	return c.Call(ctx, ActionWithdraw, map[string]string{"profile_id": profileID}, nil)
}

func (c *Client) ReviewProfile(ctx context.Context, profileID, decision, note string) (archive.Profile, error) {
	var out struct {
		Profile archive.Profile `json:"profile"`
	}
	payload := map[string]string{"profile_id": profileID, "decision": decision, "note": note}
	if err := c.Call(ctx, ActionReviewProfile, payload, &out); err != nil {
		return archive.Profile{}, err
	}
	return out.Profile, nil
}

func (c *Client) SendNotification(ctx context.Context, kind, profileID string, recipients []string) error {
	payload := struct {
		Type       string   `json:"type"`
		ProfileID  string   `json:"profile_id"`
		Recipients []string `json:"recipients"`
	}{Type: kind, ProfileID: profileID, Recipients: recipients}
	return c.Call(ctx, ActionSendNotification, payload, nil)
}

// AddRequest is the payload of add_archive_item for text, moment and person
// items.
type AddRequest struct {
	ProfileID   string             `json:"profile_id"`
	ItemType    archive.ItemType   `json:"item_type"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Body        string             `json:"body,omitempty"`
	OccurredOn  string             `json:"occurred_on,omitempty"`
	Visibility  archive.Visibility `json:"visibility"`
	Links       []archive.Link     `json:"links,omitempty"`
}

func (c *Client) AddArchiveItem(ctx context.Context, req AddRequest) (archive.Contribution, error) {
	var out struct {
		Item archive.Contribution `json:"item"`
	}
	if err := c.Call(ctx, ActionAddItem, req, &out); err != nil {
		return archive.Contribution{}, err
	}
	return out.Item, nil
}

type SearchRequest struct {
	Query     string `json:"query"`
	ProfileID string `json:"profile_id,omitempty"`
	ItemType  string `json:"item_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

type SearchHit struct {
	ID          string `json:"id"`
	ProfileID   string `json:"profile_id"`
	ProfileName string `json:"profile_name"`
	ItemType    string `json:"item_type"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
}

type SearchResult struct {
	Results []SearchHit `json:"results"`
	Total   int         `json:"total"`
}

// SearchArchive queries publicly disclosed items. It needs no session.
func (c *Client) SearchArchive(ctx context.Context, req SearchRequest) (SearchResult, error) {
	var out SearchResult
	if err := c.Call(ctx, ActionSearch, req, &out); err != nil {
		return SearchResult{}, err
	}
	return out, nil
}

type Session struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Kind      string `json:"kind"`
	ProfileID string `json:"profile_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// Login opens a session. The returned token is not installed on c; build a
// new Client with it.
func (c *Client) Login(ctx context.Context, name, email, kind string) (Session, error) {
	body, err := json.Marshal(map[string]string{"name": name, "email": email, "kind": kind})
	if err != nil {
		return Session{}, fmt.Errorf("login: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/session/login", bytes.NewReader(body))
	if err != nil {
		return Session{}, &TransportError{Action: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, &TransportError{Action: "login", Err: err}
	}
	defer resp.Body.Close()

	var out struct {
		envelope
		Session
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Session{}, &TransportError{Action: "login", Err: fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)}
	}
	if !out.Success {
		return Session{}, &ApplicationError{Action: "login", Code: out.Error, Detail: out.Detail}
	}
	return out.Session, nil
}
