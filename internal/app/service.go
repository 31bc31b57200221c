package app

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"archive/api/internal/archive"
	"archive/api/internal/auth"
	"archive/api/internal/blob"
	"archive/api/internal/config"
	"archive/api/internal/email"
	"archive/api/internal/rbac"
	"archive/api/internal/reorder"
	"archive/api/internal/review"
	"archive/api/internal/search"
	"archive/api/internal/store"
	"archive/api/internal/upload"
	"archive/api/internal/urlcache"
	"archive/api/internal/util"
)

// NotificationProfileSubmitted is the only notification type the backend sends
// on request.
const NotificationProfileSubmitted = "profile_submitted"

// base64Ratio estimates decoded bytes from the encoded payload length.
const base64Ratio = 0.75

// Actor is the authenticated caller of an action.
type Actor struct {
	UserID string
	Name   string
	Kind   auth.Kind
}

func (a *Actor) isSteward() bool {
	return a != nil && a.Kind == auth.KindSteward
}

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Kind      auth.Kind
	ProfileID string
	ExpiresAt time.Time
}

type UploadItemInput struct {
	ProfileID   string             `json:"profile_id"`
	FileName    string             `json:"file_name"`
	FileType    string             `json:"file_type"`
	FileSize    int64              `json:"file_size"`
	FileData    string             `json:"file_data"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Visibility  archive.Visibility `json:"visibility"`
}

type AddItemInput struct {
	ProfileID   string             `json:"profile_id"`
	ItemType    string             `json:"item_type"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Body        string             `json:"body"`
	OccurredOn  string             `json:"occurred_on"`
	Visibility  archive.Visibility `json:"visibility"`
	Links       []archive.Link     `json:"links"`
}

type UpdateItemInput struct {
	ItemID      string              `json:"item_id"`
	Title       *string             `json:"title"`
	Description *string             `json:"description"`
	Body        *string             `json:"body"`
	OccurredOn  *string             `json:"occurred_on"`
	Visibility  *archive.Visibility `json:"visibility"`
	Links       []archive.Link      `json:"links"`
}

type UpdateProfileInput struct {
	ProfileID    string  `json:"profile_id"`
	Name         *string `json:"name"`
	Introduction *string `json:"introduction"`
}

type NotificationInput struct {
	Type       string   `json:"type"`
	ProfileID  string   `json:"profile_id"`
	Recipients []string `json:"recipients"`
}

type SearchInput struct {
	Query     string `json:"query"`
	ProfileID string `json:"profile_id"`
	ItemType  string `json:"item_type"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

// DataStore is the persistence the service needs. Both store.PostgresStore and
// store.MemoryStore satisfy it.
type DataStore interface {
	Ping(ctx context.Context) error
	EnsureUser(context.Context, store.User) (store.User, error)
	GetUser(context.Context, string) (store.User, error)
	ListStewards(context.Context) ([]store.User, error)
	EnsureProfile(context.Context, string) (archive.Profile, error)
	GetProfile(context.Context, string) (archive.Profile, error)
	UpdateProfile(context.Context, archive.Profile) error
	SaveReview(context.Context, archive.Profile, []archive.Contribution) error
	ListContributions(context.Context, string) ([]archive.Contribution, error)
	GetContribution(context.Context, string) (archive.Contribution, error)
	InsertContribution(context.Context, archive.Contribution) (archive.Contribution, error)
	UpdateContribution(context.Context, archive.Contribution) error
	DeleteContribution(context.Context, string) error
	SetDisplayOrders(context.Context, string, map[string]int) error
}

// URLCache remembers signed read URLs per storage path.
type URLCache interface {
	Get(ctx context.Context, storagePath string, minRemaining time.Duration) (string, error)
	Put(ctx context.Context, storagePath, url string, expiresAt time.Time) error
	Invalidate(ctx context.Context, storagePath string) error
}

// Mailer delivers review notifications.
type Mailer interface {
	IsConfigured() bool
	SendSubmissionNotice(to string, data email.SubmissionData) error
	SendDecisionNotice(to string, data email.DecisionData) error
}

// Indexer keeps the public search index in step with review decisions.
type Indexer interface {
	SyncItem(profile archive.Profile, item archive.Contribution)
	RemoveItem(id string)
	Search(q search.Query) search.Response
}

type Service struct {
	cfg    config.Config
	policy upload.Policy
	store  DataStore
	blobs  blob.Store
	urls   URLCache
	mail   Mailer
	index  Indexer
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithURLCache(cache URLCache) Option {
	return func(s *Service) { s.urls = cache }
}

func WithMailer(mailer Mailer) Option {
	return func(s *Service) { s.mail = mailer }
}

func WithIndexer(index Indexer) Option {
	return func(s *Service) { s.index = index }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg config.Config, data DataStore, blobs blob.Store, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		policy: cfg.Policy.UploadPolicy(),
		store:  data,
		blobs:  blobs,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "service")
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// userID derives a stable id so repeated logins reuse the same user.
func userID(name string, kind auth.Kind) string {
	sum := sha1.Sum([]byte(string(kind) + ":" + strings.ToLower(name)))
	return "usr_" + hex.EncodeToString(sum[:])[:16]
}

// Login ensures a user (and, for owners, their profile) and issues a token.
func (s *Service) Login(ctx context.Context, name, emailAddr string, kind auth.Kind) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		return Session{}, validationError("name is required")
	}
	if kind == "" {
		kind = auth.KindOwner
	}
	if kind != auth.KindOwner && kind != auth.KindSteward {
		return Session{}, validationError("kind must be owner or steward")
	}

	user, err := s.store.EnsureUser(ctx, store.User{
		ID:          userID(userName, kind),
		DisplayName: userName,
		Email:       strings.TrimSpace(emailAddr),
		Kind:        store.UserKind(kind),
	})
	if err != nil {
		return Session{}, err
	}

	session := Session{UserID: user.ID, UserName: user.DisplayName, Kind: kind}
	if kind == auth.KindOwner {
		profile, err := s.store.EnsureProfile(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
		session.ProfileID = profile.ID
	}

	claims := auth.NewClaims(user.ID, user.DisplayName, kind, s.cfg.TokenTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), claims)
	if err != nil {
		return Session{}, err
	}
	session.Token = token
	session.ExpiresAt = time.Unix(claims.Exp, 0)
	return session, nil
}

func (s *Service) ActorFromToken(ctx context.Context, token string) (*Actor, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.ErrInvalidToken
		}
		return nil, err
	}
	if string(user.Kind) != string(claims.Kind) {
		return nil, auth.ErrInvalidToken
	}
	return &Actor{UserID: user.ID, Name: user.DisplayName, Kind: claims.Kind}, nil
}

func requireActor(actor *Actor) error {
	if actor == nil {
		return domainError(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
	}
	return nil
}

func requireSteward(actor *Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.isSteward() {
		return forbidden()
	}
	return nil
}

func (s *Service) ownedProfile(ctx context.Context, actor *Actor, profileID string) (archive.Profile, error) {
	if err := requireActor(actor); err != nil {
		return archive.Profile{}, err
	}
	if strings.TrimSpace(profileID) == "" {
		return archive.Profile{}, validationError("profile_id is required")
	}
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return archive.Profile{}, err
	}
	if profile.OwnerID != actor.UserID {
		return archive.Profile{}, forbidden()
	}
	return profile, nil
}

func (s *Service) ownedItem(ctx context.Context, actor *Actor, itemID string) (archive.Profile, archive.Contribution, error) {
	if err := requireActor(actor); err != nil {
		return archive.Profile{}, archive.Contribution{}, err
	}
	if strings.TrimSpace(itemID) == "" {
		return archive.Profile{}, archive.Contribution{}, validationError("item_id is required")
	}
	item, err := s.store.GetContribution(ctx, itemID)
	if err != nil {
		return archive.Profile{}, archive.Contribution{}, err
	}
	profile, err := s.ownedProfile(ctx, actor, item.ProfileID)
	if err != nil {
		return archive.Profile{}, archive.Contribution{}, err
	}
	return profile, item, nil
}

func profileLocked(profile archive.Profile) error {
	if profile.Locked() {
		return domainError(http.StatusConflict, CodeProfileLocked, "Profile is awaiting review", map[string]any{"profile_id": profile.ID})
	}
	return nil
}

// itemLocked treats every item of a profile under review as locked.
func itemLocked(profile archive.Profile, item archive.Contribution) error {
	if profile.Locked() || item.Locked() {
		return domainError(http.StatusConflict, CodeItemLocked, "Item is awaiting review", map[string]any{"item_id": item.ID})
	}
	return nil
}

// contentLocked rejects content edits outside draft, rejected and
// needs_changes. Visibility is not content.
func contentLocked(item archive.Contribution) error {
	if !item.Status.OwnerMutable() {
		return domainError(http.StatusConflict, CodeItemLocked, "Item content can only change before approval", map[string]any{"item_id": item.ID, "status": item.Status})
	}
	return nil
}

func (in UpdateItemInput) touchesContent() bool {
	return in.Title != nil || in.Description != nil || in.Body != nil || in.OccurredOn != nil || in.Links != nil
}

func invalidTransition(err error) error {
	if errors.Is(err, review.ErrInvalidTransition) {
		return domainError(http.StatusConflict, CodeInvalidTransition, err.Error(), nil)
	}
	return err
}

// EstimatedSize approximates the decoded size of base64 payload data. Trailing
// padding carries no bytes.
func EstimatedSize(fileData string) int64 {
	padding := len(fileData) - len(strings.TrimRight(fileData, "="))
	if padding > 2 {
		padding = 2
	}
	return int64(float64(len(fileData))*base64Ratio) - int64(padding)
}

func (s *Service) UploadItem(ctx context.Context, actor *Actor, in UploadItemInput) (map[string]any, error) {
	profile, err := s.ownedProfile(ctx, actor, in.ProfileID)
	if err != nil {
		return nil, err
	}
	if err := profileLocked(profile); err != nil {
		return nil, err
	}
	fileName := strings.TrimSpace(path.Base(in.FileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, validationError("file_name is required")
	}
	fileType := strings.ToLower(strings.TrimSpace(in.FileType))
	if err := s.policy.Validate(upload.File{Name: fileName, Type: fileType}); err != nil {
		return nil, domainError(http.StatusUnsupportedMediaType, CodeUnsupportedType, err.Error(), map[string]any{"file_type": in.FileType})
	}
	maxBytes := s.policy.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = upload.MaxFileBytes
	}
	if size := EstimatedSize(in.FileData); size > maxBytes {
		return nil, domainError(http.StatusRequestEntityTooLarge, CodeFileTooLarge, "File exceeds the upload limit", map[string]any{
			"estimated_bytes": size,
			"max_bytes":       maxBytes,
		})
	}
	if !in.Visibility.Valid() {
		return nil, validationError("visibility is invalid")
	}
	data, err := base64.StdEncoding.DecodeString(in.FileData)
	if err != nil {
		return nil, validationError("file_data must be base64 encoded")
	}
	if len(data) == 0 {
		return nil, validationError("file_data is empty")
	}

	itemID := util.NewID("itm")
	key := blob.Key(profile.ID, itemID, fileName)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), fileType); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}

	now := s.now().UTC()
	saved, err := s.store.InsertContribution(ctx, archive.Contribution{
		ID:          itemID,
		ProfileID:   profile.ID,
		ItemType:    archive.ItemTypeForMime(fileType),
		Visibility:  in.Visibility,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Attachment: &archive.Attachment{
			StoragePath: key,
			MimeType:    fileType,
			SizeBytes:   int64(len(data)),
		},
		Review:    archive.Review{Status: archive.StatusDraft},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if rmErr := s.blobs.Remove(ctx, key); rmErr != nil && !errors.Is(rmErr, blob.ErrNotFound) {
			s.logger.Warn("remove orphaned attachment", "storage_path", key, "error", rmErr)
		}
		return nil, err
	}
	s.logger.Info("item uploaded",
		"item_id", saved.ID,
		"profile_id", profile.ID,
		"item_type", saved.ItemType,
		"size_bytes", len(data),
	)
	return map[string]any{"item": saved}, nil
}

var manualItemTypes = map[archive.ItemType]struct{}{
	archive.ItemText:   {},
	archive.ItemMoment: {},
	archive.ItemPerson: {},
}

// AddItem creates a contribution that has no attachment.
func (s *Service) AddItem(ctx context.Context, actor *Actor, in AddItemInput) (map[string]any, error) {
	profile, err := s.ownedProfile(ctx, actor, in.ProfileID)
	if err != nil {
		return nil, err
	}
	if err := profileLocked(profile); err != nil {
		return nil, err
	}
	itemType, err := archive.ParseItemType(in.ItemType)
	if err != nil {
		return nil, validationError(err.Error())
	}
	if _, ok := manualItemTypes[itemType]; !ok {
		return nil, validationError("item_type must be text, moment or person; files go through upload_archive_item")
	}
	title := strings.TrimSpace(in.Title)
	body := strings.TrimSpace(in.Body)
	if title == "" && body == "" {
		return nil, validationError("title or body is required")
	}
	occurredOn := strings.TrimSpace(in.OccurredOn)
	if itemType == archive.ItemMoment && occurredOn == "" {
		return nil, validationError("occurred_on is required for moments")
	}
	if !in.Visibility.Valid() {
		return nil, validationError("visibility is invalid")
	}
	links, err := normalizeLinks(in.Links)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	saved, err := s.store.InsertContribution(ctx, archive.Contribution{
		ID:          util.NewID("itm"),
		ProfileID:   profile.ID,
		ItemType:    itemType,
		Visibility:  in.Visibility,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Body:        body,
		OccurredOn:  occurredOn,
		Links:       links,
		Review:      archive.Review{Status: archive.StatusDraft},
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"item": saved}, nil
}

// normalizeLinks keeps suggestions as free text and requires a target on
// confirmed links.
func normalizeLinks(links []archive.Link) ([]archive.Link, error) {
	if links == nil {
		return nil, nil
	}
	out := make([]archive.Link, 0, len(links))
	for _, link := range links {
		link.Label = strings.TrimSpace(link.Label)
		link.TargetID = strings.TrimSpace(link.TargetID)
		if link.Confirmed && link.TargetID == "" {
			return nil, validationError("confirmed links need a target_id")
		}
		if !link.Confirmed && link.Label == "" {
			return nil, validationError("link suggestions need a label")
		}
		out = append(out, link)
	}
	return out, nil
}

func (s *Service) UpdateItem(ctx context.Context, actor *Actor, in UpdateItemInput) (map[string]any, error) {
	profile, item, err := s.ownedItem(ctx, actor, in.ItemID)
	if err != nil {
		return nil, err
	}
	if err := itemLocked(profile, item); err != nil {
		return nil, err
	}
	if in.touchesContent() {
		if err := contentLocked(item); err != nil {
			return nil, err
		}
	}
	if in.Title != nil {
		item.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		item.Description = strings.TrimSpace(*in.Description)
	}
	if in.Body != nil {
		item.Body = strings.TrimSpace(*in.Body)
	}
	if in.OccurredOn != nil {
		item.OccurredOn = strings.TrimSpace(*in.OccurredOn)
	}
	if in.Visibility != nil {
		if !in.Visibility.Valid() {
			return nil, validationError("visibility is invalid")
		}
		item.Visibility = *in.Visibility
	}
	if in.Links != nil {
		links, err := normalizeLinks(in.Links)
		if err != nil {
			return nil, err
		}
		item.Links = links
	}
	item.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateContribution(ctx, item); err != nil {
		return nil, err
	}
	if s.index != nil && item.Status == archive.StatusApproved {
		s.index.SyncItem(profile, item)
	}
	return map[string]any{"item": item}, nil
}

func (s *Service) DeleteItem(ctx context.Context, actor *Actor, itemID string) (map[string]any, error) {
	profile, item, err := s.ownedItem(ctx, actor, itemID)
	if err != nil {
		return nil, err
	}
	if err := itemLocked(profile, item); err != nil {
		return nil, err
	}
	if err := contentLocked(item); err != nil {
		return nil, err
	}
	if err := s.store.DeleteContribution(ctx, item.ID); err != nil {
		return nil, err
	}
	if item.Attachment != nil {
		s.dropAttachment(ctx, item.Attachment.StoragePath)
	}
	if s.index != nil {
		s.index.RemoveItem(item.ID)
	}
	items, err := s.resequence(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": item.ID, "items": items}, nil
}

// dropAttachment removes the blob and its cached URL. The row is already gone,
// so failures are logged rather than returned.
func (s *Service) dropAttachment(ctx context.Context, storagePath string) {
	if err := s.blobs.Remove(ctx, storagePath); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn("remove attachment", "storage_path", storagePath, "error", err)
	}
	if s.urls != nil {
		if err := s.urls.Invalidate(ctx, storagePath); err != nil {
			s.logger.Warn("invalidate signed url", "storage_path", storagePath, "error", err)
		}
	}
}

// resequence renumbers every partition of a profile 1..N in current order.
func (s *Service) resequence(ctx context.Context, profileID string) ([]archive.Contribution, error) {
	items, err := s.store.ListContributions(ctx, profileID)
	if err != nil {
		return nil, err
	}
	ranks := reorder.Ranks(items, reorder.OrderedIDs(items))
	if err := s.store.SetDisplayOrders(ctx, profileID, ranks); err != nil {
		return nil, err
	}
	return s.store.ListContributions(ctx, profileID)
}

// ReorderItems recomputes every partition's ranks from the full ordered id
// list. Ids that no longer belong to the profile are ignored.
func (s *Service) ReorderItems(ctx context.Context, actor *Actor, profileID string, orderedIDs []string) (map[string]any, error) {
	profile, err := s.ownedProfile(ctx, actor, profileID)
	if err != nil {
		return nil, err
	}
	if err := profileLocked(profile); err != nil {
		return nil, err
	}
	if len(orderedIDs) == 0 {
		return nil, validationError("ordered_item_ids is required")
	}
	items, err := s.store.ListContributions(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetDisplayOrders(ctx, profile.ID, reorder.Ranks(items, orderedIDs)); err != nil {
		return nil, err
	}
	items, err = s.store.ListContributions(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": items}, nil
}

// viewerRole resolves the role a listing is disclosed to. Owners and stewards
// default to the full view; anyone else defaults to public.
func viewerRole(actor *Actor, profile archive.Profile, requested string) (rbac.Role, error) {
	privileged := actor.isSteward() || (actor != nil && actor.UserID == profile.OwnerID)
	requested = strings.TrimSpace(requested)
	if requested == "" {
		if privileged {
			return rbac.RoleSteward, nil
		}
		return rbac.RolePublic, nil
	}
	role := rbac.Normalize(requested)
	if role == rbac.RoleSteward && !privileged {
		return "", forbidden()
	}
	return role, nil
}

func (s *Service) ListItems(ctx context.Context, actor *Actor, profileID, requestedRole string) (map[string]any, error) {
	if strings.TrimSpace(profileID) == "" {
		return nil, validationError("profile_id is required")
	}
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	role, err := viewerRole(actor, profile, requestedRole)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListContributions(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": rbac.Filter(role, items), "viewer_role": role}, nil
}

// ItemURL returns a signed read URL for an attachment the caller may see.
// Items the caller may not see are reported as missing.
func (s *Service) ItemURL(ctx context.Context, actor *Actor, itemID, requestedRole string) (map[string]any, error) {
	item, err := s.store.GetContribution(ctx, itemID)
	if err != nil {
		return nil, err
	}
	profile, err := s.store.GetProfile(ctx, item.ProfileID)
	if err != nil {
		return nil, err
	}
	role, err := viewerRole(actor, profile, requestedRole)
	if err != nil {
		return nil, err
	}
	if !rbac.CanView(role, item.Status, item.Visibility) || item.Attachment == nil {
		return nil, domainError(http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
	url, err := s.signedURL(ctx, item.Attachment.StoragePath)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": url, "expires_in": int(s.cfg.SignedURLTTL.Seconds())}, nil
}

func (s *Service) signedURL(ctx context.Context, storagePath string) (string, error) {
	ttl := s.cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if s.urls != nil {
		url, err := s.urls.Get(ctx, storagePath, ttl/4)
		if err == nil {
			return url, nil
		}
		if !errors.Is(err, urlcache.ErrMiss) {
			s.logger.Warn("signed url cache read", "storage_path", storagePath, "error", err)
		}
	}
	url, err := s.blobs.SignedURL(ctx, storagePath, ttl)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	if s.urls != nil {
		if err := s.urls.Put(ctx, storagePath, url, s.now().Add(ttl)); err != nil {
			s.logger.Warn("signed url cache write", "storage_path", storagePath, "error", err)
		}
	}
	return url, nil
}

func readinessPayload(profile archive.Profile) map[string]any {
	readiness := review.CheckReadiness(profile.Name, profile.Introduction)
	unmet := make([]string, 0, len(readiness.Unmet))
	for _, req := range readiness.Unmet {
		unmet = append(unmet, string(req))
	}
	return map[string]any{
		"ready":   readiness.Ready(),
		"unmet":   unmet,
		"message": readiness.Message(),
	}
}

// GetProfile returns a profile to its owner or a steward. An owner calling
// without a profile id gets their own profile, created on first use.
func (s *Service) GetProfile(ctx context.Context, actor *Actor, profileID string) (map[string]any, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var (
		profile archive.Profile
		err     error
	)
	if strings.TrimSpace(profileID) == "" && actor.Kind == auth.KindOwner {
		profile, err = s.store.EnsureProfile(ctx, actor.UserID)
	} else {
		profile, err = s.store.GetProfile(ctx, profileID)
	}
	if err != nil {
		return nil, err
	}
	if profile.OwnerID != actor.UserID && !actor.isSteward() {
		return nil, forbidden()
	}
	items, err := s.store.ListContributions(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"profile":   profile,
		"items":     items,
		"readiness": readinessPayload(profile),
	}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, actor *Actor, in UpdateProfileInput) (map[string]any, error) {
	profile, err := s.ownedProfile(ctx, actor, in.ProfileID)
	if err != nil {
		return nil, err
	}
	if err := profileLocked(profile); err != nil {
		return nil, err
	}
	if in.Name != nil {
		profile.Name = strings.TrimSpace(*in.Name)
	}
	if in.Introduction != nil {
		profile.Introduction = strings.TrimSpace(*in.Introduction)
	}
	profile.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}
	return map[string]any{"profile": profile, "readiness": readinessPayload(profile)}, nil
}

// transitionItems applies ev to every item for which match is true and
// returns the changed items.
func transitionItems(items []archive.Contribution, ev review.Event, note string, now time.Time, match func(archive.Contribution) bool) []archive.Contribution {
	changed := make([]archive.Contribution, 0, len(items))
	for _, item := range items {
		if !match(item) {
			continue
		}
		next, err := review.Apply(item.Review, ev, note, now)
		if err != nil {
			continue
		}
		item.Review = next
		item.UpdatedAt = now
		changed = append(changed, item)
	}
	return changed
}

func (s *Service) stewardsFor(ctx context.Context, profile archive.Profile) ([]string, error) {
	if len(profile.StewardIDs) > 0 {
		return append([]string(nil), profile.StewardIDs...), nil
	}
	stewards, err := s.store.ListStewards(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(stewards))
	for _, steward := range stewards {
		ids = append(ids, steward.ID)
	}
	return ids, nil
}

// SubmitProfile moves the profile and every owner editable item into review.
func (s *Service) SubmitProfile(ctx context.Context, actor *Actor, profileID string) (map[string]any, error) {
	profile, err := s.ownedProfile(ctx, actor, profileID)
	if err != nil {
		return nil, err
	}
	readiness := review.CheckReadiness(profile.Name, profile.Introduction)
	if !readiness.Ready() {
		return nil, domainError(http.StatusUnprocessableEntity, CodeProfileIncomplete, readiness.Message(), map[string]any{"unmet": readiness.Unmet})
	}
	now := s.now().UTC()
	next, err := review.Apply(profile.Review, review.EventSubmit, "", now)
	if err != nil {
		return nil, invalidTransition(err)
	}
	profile.Review = next
	profile.UpdatedAt = now

	items, err := s.store.ListContributions(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	changed := transitionItems(items, review.EventSubmit, "", now, func(item archive.Contribution) bool {
		return item.Status.OwnerMutable()
	})
	if err := s.store.SaveReview(ctx, profile, changed); err != nil {
		return nil, err
	}
	stewards, err := s.stewardsFor(ctx, profile)
	if err != nil {
		return nil, err
	}
	s.logger.Info("profile submitted", "profile_id", profile.ID, "items", len(changed), "stewards", len(stewards))
	return map[string]any{
		"submitted_at":       next.SubmittedAt,
		"stewards_to_notify": stewards,
	}, nil
}

// WithdrawSubmission returns the profile and its submitted items to draft.
func (s *Service) WithdrawSubmission(ctx context.Context, actor *Actor, profileID string) (map[string]any, error) {
	profile, err := s.ownedProfile(ctx, actor, profileID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	next, err := review.Apply(profile.Review, review.EventWithdraw, "", now)
	if err != nil {
		return nil, invalidTransition(err)
	}
	profile.Review = next
	profile.UpdatedAt = now

	items, err := s.store.ListContributions(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	changed := transitionItems(items, review.EventWithdraw, "", now, func(item archive.Contribution) bool {
		return item.Status == archive.StatusSubmitted
	})
	if err := s.store.SaveReview(ctx, profile, changed); err != nil {
		return nil, err
	}
	return map[string]any{"profile": profile}, nil
}

// ReviewProfile records a steward decision on the profile and carries it to
// every item submitted with it.
func (s *Service) ReviewProfile(ctx context.Context, actor *Actor, profileID, decision, note string) (map[string]any, error) {
	if err := requireSteward(actor); err != nil {
		return nil, err
	}
	ev, err := review.ParseDecision(decision)
	if err != nil {
		return nil, validationError(err.Error())
	}
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	next, err := review.Apply(profile.Review, ev, note, now)
	if err != nil {
		return nil, invalidTransition(err)
	}
	profile.Review = next
	profile.UpdatedAt = now

	items, err := s.store.ListContributions(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	changed := transitionItems(items, ev, note, now, func(item archive.Contribution) bool {
		return item.Status == archive.StatusSubmitted
	})
	if err := s.store.SaveReview(ctx, profile, changed); err != nil {
		return nil, err
	}
	if s.index != nil {
		for _, item := range changed {
			s.index.SyncItem(profile, item)
		}
	}
	s.logger.Info("profile reviewed", "profile_id", profile.ID, "decision", ev, "reviewer", actor.UserID, "items", len(changed))
	s.notifyDecision(ctx, profile)

	items, err = s.store.ListContributions(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"profile": profile, "items": items}, nil
}

// ReviewItem records a steward decision on a single item.
func (s *Service) ReviewItem(ctx context.Context, actor *Actor, itemID, decision, note string) (map[string]any, error) {
	if err := requireSteward(actor); err != nil {
		return nil, err
	}
	ev, err := review.ParseDecision(decision)
	if err != nil {
		return nil, validationError(err.Error())
	}
	item, err := s.store.GetContribution(ctx, itemID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	next, err := review.Apply(item.Review, ev, note, now)
	if err != nil {
		return nil, invalidTransition(err)
	}
	item.Review = next
	item.UpdatedAt = now
	if err := s.store.UpdateContribution(ctx, item); err != nil {
		return nil, err
	}
	if s.index != nil {
		profile, err := s.store.GetProfile(ctx, item.ProfileID)
		if err != nil {
			return nil, err
		}
		s.index.SyncItem(profile, item)
	}
	return map[string]any{"item": item}, nil
}

// notifyDecision mails the owner in the background. Failures are logged only.
func (s *Service) notifyDecision(ctx context.Context, profile archive.Profile) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		owner, err := s.store.GetUser(ctx, profile.OwnerID)
		if err != nil || owner.Email == "" {
			return
		}
		if err := s.mail.SendDecisionNotice(owner.Email, email.DecisionData{
			OwnerName:    owner.DisplayName,
			ProfileName:  profile.Name,
			Decision:     strings.ReplaceAll(string(profile.Status), "_", " "),
			ReviewerNote: profile.ReviewerNote,
		}); err != nil {
			s.logger.Warn("decision notice failed", "profile_id", profile.ID, "error", err)
		}
	}()
}

// SendNotification emails the profile's stewards that it awaits review.
// Recipients outside the profile's stewards are ignored.
func (s *Service) SendNotification(ctx context.Context, actor *Actor, in NotificationInput) (map[string]any, error) {
	if in.Type != NotificationProfileSubmitted {
		return nil, validationError(fmt.Sprintf("unknown notification type %q", in.Type))
	}
	profile, err := s.ownedProfile(ctx, actor, in.ProfileID)
	if err != nil {
		return nil, err
	}
	if profile.Status != archive.StatusSubmitted {
		return nil, domainError(http.StatusConflict, CodeInvalidTransition, "Profile is not awaiting review", nil)
	}
	stewards, err := s.stewardsFor(ctx, profile)
	if err != nil {
		return nil, err
	}
	recipients := stewards
	if len(in.Recipients) > 0 {
		allowed := make(map[string]bool, len(stewards))
		for _, id := range stewards {
			allowed[id] = true
		}
		recipients = recipients[:0:0]
		for _, id := range in.Recipients {
			if allowed[id] {
				recipients = append(recipients, id)
			}
		}
	}
	if s.mail == nil || !s.mail.IsConfigured() {
		s.logger.Info("email not configured, skipping submission notice", "profile_id", profile.ID, "recipients", len(recipients))
		return map[string]any{"sent": 0, "skipped": len(recipients)}, nil
	}

	items, err := s.store.ListContributions(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	itemCount := 0
	for _, item := range items {
		if item.Status == archive.StatusSubmitted {
			itemCount++
		}
	}

	sent, failed := 0, 0
	for _, id := range recipients {
		steward, err := s.store.GetUser(ctx, id)
		if err != nil || steward.Email == "" {
			continue
		}
		if err := s.mail.SendSubmissionNotice(steward.Email, email.SubmissionData{
			StewardName: steward.DisplayName,
			ProfileName: profile.Name,
			ItemCount:   itemCount,
		}); err != nil {
			failed++
			s.logger.Warn("submission notice failed", "profile_id", profile.ID, "steward_id", id, "error", err)
			continue
		}
		sent++
	}
	if sent == 0 && failed > 0 {
		return nil, domainError(http.StatusBadGateway, CodeNotifyFailed, "No notification could be delivered", map[string]any{"failed": failed})
	}
	return map[string]any{"sent": sent, "failed": failed}, nil
}

// Search queries publicly disclosable items only.
func (s *Service) Search(in SearchInput) map[string]any {
	if s.index == nil || strings.TrimSpace(in.Query) == "" {
		return map[string]any{"results": []search.Result{}, "total": 0, "query": in.Query}
	}
	resp := s.index.Search(search.Query{
		Text:      in.Query,
		ProfileID: in.ProfileID,
		ItemType:  in.ItemType,
		Limit:     in.Limit,
		Offset:    in.Offset,
	})
	return map[string]any{"results": resp.Results, "total": resp.Total, "query": resp.Query}
}
