package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"archive/api/internal/archive"
	"archive/api/internal/util"
)

// MemoryStore keeps everything in process memory. It backs the API when no
// database is configured and is used by tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]User
	profiles      map[string]archive.Profile
	ownerProfiles map[string]string
	contributions map[string]archive.Contribution
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]User),
		profiles:      make(map[string]archive.Profile),
		ownerProfiles: make(map[string]string),
		contributions: make(map[string]archive.Contribution),
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) EnsureUser(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = util.NewID("usr")
	}
	if existing, ok := s.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, fmt.Errorf("get user: %w", ErrNotFound)
	}
	return user, nil
}

func (s *MemoryStore) ListStewards(context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stewardsLocked(), nil
}

func (s *MemoryStore) stewardsLocked() []User {
	out := make([]User, 0)
	for _, user := range s.users {
		if user.Kind == UserSteward {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) EnsureProfile(_ context.Context, ownerID string) (archive.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ownerProfiles[ownerID]; ok {
		return s.profiles[id].Clone(), nil
	}
	now := time.Now().UTC()
	p := archive.Profile{
		ID:        util.NewID("prf"),
		OwnerID:   ownerID,
		Review:    archive.Review{Status: archive.StatusDraft},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, steward := range s.stewardsLocked() {
		p.StewardIDs = append(p.StewardIDs, steward.ID)
	}
	sort.Strings(p.StewardIDs)
	s.profiles[p.ID] = p
	s.ownerProfiles[ownerID] = p.ID
	return p.Clone(), nil
}

func (s *MemoryStore) GetProfile(_ context.Context, profileID string) (archive.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return archive.Profile{}, fmt.Errorf("get profile: %w", ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, p archive.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateProfileLocked(p)
}

func (s *MemoryStore) updateProfileLocked(p archive.Profile) error {
	existing, ok := s.profiles[p.ID]
	if !ok {
		return fmt.Errorf("update profile: %w", ErrNotFound)
	}
	next := p.Clone()
	next.OwnerID = existing.OwnerID
	next.StewardIDs = existing.StewardIDs
	next.CreatedAt = existing.CreatedAt
	s.profiles[p.ID] = next
	return nil
}

func (s *MemoryStore) SaveReview(_ context.Context, p archive.Profile, items []archive.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		return fmt.Errorf("save review: %w", ErrNotFound)
	}
	for _, item := range items {
		if _, ok := s.contributions[item.ID]; !ok {
			return fmt.Errorf("save review %s: %w", item.ID, ErrNotFound)
		}
	}
	if err := s.updateProfileLocked(p); err != nil {
		return err
	}
	for _, item := range items {
		s.updateContributionLocked(item)
	}
	return nil
}

func (s *MemoryStore) ListContributions(_ context.Context, profileID string) ([]archive.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]archive.Contribution, 0)
	for _, item := range s.contributions {
		if item.ProfileID == profileID {
			out = append(out, item.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ItemType != b.ItemType {
			return a.ItemType < b.ItemType
		}
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetContribution(_ context.Context, itemID string) (archive.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.contributions[itemID]
	if !ok {
		return archive.Contribution{}, fmt.Errorf("get contribution: %w", ErrNotFound)
	}
	return item.Clone(), nil
}

func (s *MemoryStore) InsertContribution(_ context.Context, c archive.Contribution) (archive.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[c.ProfileID]; !ok {
		return archive.Contribution{}, fmt.Errorf("insert contribution: profile %s: %w", c.ProfileID, ErrNotFound)
	}
	if _, dup := s.contributions[c.ID]; dup {
		return archive.Contribution{}, fmt.Errorf("insert contribution: duplicate id %s", c.ID)
	}
	maxOrder := 0
	for _, item := range s.contributions {
		if item.ProfileID == c.ProfileID && item.ItemType == c.ItemType && item.DisplayOrder > maxOrder {
			maxOrder = item.DisplayOrder
		}
	}
	c = c.Clone()
	c.DisplayOrder = maxOrder + 1
	c.UpdatedAt = c.CreatedAt
	s.contributions[c.ID] = c
	return c.Clone(), nil
}

func (s *MemoryStore) UpdateContribution(_ context.Context, c archive.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contributions[c.ID]; !ok {
		return fmt.Errorf("update contribution: %w", ErrNotFound)
	}
	s.updateContributionLocked(c)
	return nil
}

// updateContributionLocked keeps the identity, partition and ordering columns,
// matching what the SQL update writes.
func (s *MemoryStore) updateContributionLocked(c archive.Contribution) {
	existing := s.contributions[c.ID]
	next := c.Clone()
	next.ProfileID = existing.ProfileID
	next.ItemType = existing.ItemType
	next.DisplayOrder = existing.DisplayOrder
	next.Attachment = existing.Attachment
	next.CreatedAt = existing.CreatedAt
	s.contributions[c.ID] = next
}

func (s *MemoryStore) DeleteContribution(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contributions[itemID]; !ok {
		return fmt.Errorf("delete contribution: %w", ErrNotFound)
	}
	delete(s.contributions, itemID)
	return nil
}

func (s *MemoryStore) SetDisplayOrders(_ context.Context, profileID string, ranks map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, rank := range ranks {
		item, ok := s.contributions[id]
		if !ok || item.ProfileID != profileID {
			continue
		}
		item.DisplayOrder = rank
		item.UpdatedAt = now
		s.contributions[id] = item
	}
	return nil
}
