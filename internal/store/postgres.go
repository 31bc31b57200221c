package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"archive/api/internal/archive"
	"archive/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *PostgresStore) EnsureUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = util.NewID("usr")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, email, kind)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET display_name=EXCLUDED.display_name, email=EXCLUDED.email, kind=EXCLUDED.kind
		RETURNING created_at
	`, user.ID, user.DisplayName, user.Email, string(user.Kind)).Scan(&user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	var kind string
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email, kind, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Email, &kind, &user.CreatedAt)
	if err != nil {
		return User{}, notFound(err, "get user")
	}
	user.Kind = UserKind(kind)
	return user, nil
}

func (s *PostgresStore) ListStewards(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name, email, created_at FROM users WHERE kind='steward' ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list stewards: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user := User{Kind: UserSteward}
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan steward: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stewards: %w", err)
	}
	return users, nil
}

// EnsureProfile returns the owner's profile, creating a draft assigned to the
// current stewards when none exists.
func (s *PostgresStore) EnsureProfile(ctx context.Context, ownerID string) (archive.Profile, error) {
	var profileID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM profiles WHERE owner_id=$1`, ownerID).Scan(&profileID)
	if err == nil {
		return s.GetProfile(ctx, profileID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return archive.Profile{}, fmt.Errorf("lookup profile: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return archive.Profile{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	profileID = util.NewID("prf")
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (id, owner_id, status)
		VALUES ($1, $2, 'draft')
		ON CONFLICT (owner_id) DO NOTHING
	`, profileID, ownerID); err != nil {
		return archive.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profile_stewards (profile_id, steward_id)
		SELECT p.id, u.id FROM profiles p CROSS JOIN users u
		WHERE p.owner_id=$1 AND u.kind='steward'
		ON CONFLICT DO NOTHING
	`, ownerID); err != nil {
		return archive.Profile{}, fmt.Errorf("assign stewards: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return archive.Profile{}, fmt.Errorf("commit profile: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT id FROM profiles WHERE owner_id=$1`, ownerID).Scan(&profileID); err != nil {
		return archive.Profile{}, notFound(err, "reload profile")
	}
	return s.GetProfile(ctx, profileID)
}

func (s *PostgresStore) GetProfile(ctx context.Context, profileID string) (archive.Profile, error) {
	var (
		p      archive.Profile
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, introduction, status, submitted_at, approved_at, rejected_at, reviewer_note, created_at, updated_at
		FROM profiles
		WHERE id=$1
	`, profileID).Scan(
		&p.ID,
		&p.OwnerID,
		&p.Name,
		&p.Introduction,
		&status,
		&p.SubmittedAt,
		&p.ApprovedAt,
		&p.RejectedAt,
		&p.ReviewerNote,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return archive.Profile{}, notFound(err, "get profile")
	}
	if p.Status, err = archive.ParseStatus(status); err != nil {
		return archive.Profile{}, fmt.Errorf("profile %s: %w", p.ID, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT steward_id FROM profile_stewards WHERE profile_id=$1 ORDER BY steward_id`, profileID)
	if err != nil {
		return archive.Profile{}, fmt.Errorf("list profile stewards: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return archive.Profile{}, fmt.Errorf("scan profile steward: %w", err)
		}
		p.StewardIDs = append(p.StewardIDs, id)
	}
	if err := rows.Err(); err != nil {
		return archive.Profile{}, fmt.Errorf("iterate profile stewards: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, p archive.Profile) error {
	return updateProfile(ctx, s.db, p)
}

func updateProfile(ctx context.Context, q queryer, p archive.Profile) error {
	res, err := q.ExecContext(ctx, `
		UPDATE profiles
		SET name=$2, introduction=$3, status=$4, submitted_at=$5, approved_at=$6, rejected_at=$7, reviewer_note=$8, updated_at=$9
		WHERE id=$1
	`, p.ID, p.Name, p.Introduction, string(p.Status), p.SubmittedAt, p.ApprovedAt, p.RejectedAt, p.ReviewerNote, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return requireRow(res, "update profile")
}

// SaveReview writes a profile and the items its review transition touched in
// one transaction.
func (s *PostgresStore) SaveReview(ctx context.Context, p archive.Profile, items []archive.Contribution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := updateProfile(ctx, tx, p); err != nil {
		return err
	}
	for _, item := range items {
		if err := updateContribution(ctx, tx, item); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit review: %w", err)
	}
	return nil
}

const contributionColumns = `id, profile_id, item_type, visibility, display_order, title, description, body, occurred_on,
	storage_path, mime_type, size_bytes, links, status, submitted_at, approved_at, rejected_at, reviewer_note, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContribution(row rowScanner) (archive.Contribution, error) {
	var (
		c           archive.Contribution
		itemType    string
		visibility  string
		status      string
		storagePath sql.NullString
		mimeType    sql.NullString
		sizeBytes   sql.NullInt64
		links       []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.ProfileID,
		&itemType,
		&visibility,
		&c.DisplayOrder,
		&c.Title,
		&c.Description,
		&c.Body,
		&c.OccurredOn,
		&storagePath,
		&mimeType,
		&sizeBytes,
		&links,
		&status,
		&c.SubmittedAt,
		&c.ApprovedAt,
		&c.RejectedAt,
		&c.ReviewerNote,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return archive.Contribution{}, err
	}
	c.ItemType = archive.ItemType(itemType)
	parsed, err := archive.ParseStatus(status)
	if err != nil {
		return archive.Contribution{}, fmt.Errorf("contribution %s: %w", c.ID, err)
	}
	c.Status = parsed
	level, err := archive.ParseVisibility(visibility)
	if err != nil {
		return archive.Contribution{}, fmt.Errorf("contribution %s: %w", c.ID, err)
	}
	c.Visibility = level
	if storagePath.Valid {
		c.Attachment = &archive.Attachment{
			StoragePath: storagePath.String,
			MimeType:    mimeType.String,
			SizeBytes:   sizeBytes.Int64,
		}
	}
	if len(links) > 0 {
		if err := json.Unmarshal(links, &c.Links); err != nil {
			return archive.Contribution{}, fmt.Errorf("decode links of %s: %w", c.ID, err)
		}
		if len(c.Links) == 0 {
			c.Links = nil
		}
	}
	return c, nil
}

func (s *PostgresStore) ListContributions(ctx context.Context, profileID string) ([]archive.Contribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contributionColumns+`
		FROM contributions
		WHERE profile_id=$1
		ORDER BY item_type, display_order, created_at
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	items := make([]archive.Contribution, 0)
	for rows.Next() {
		item, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetContribution(ctx context.Context, itemID string) (archive.Contribution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE id=$1`, itemID)
	item, err := scanContribution(row)
	if err != nil {
		return archive.Contribution{}, notFound(err, "get contribution")
	}
	return item, nil
}

func attachmentArgs(a *archive.Attachment) (any, any, any) {
	if a == nil {
		return nil, nil, nil
	}
	return a.StoragePath, a.MimeType, a.SizeBytes
}

func encodeLinks(links []archive.Link) ([]byte, error) {
	if links == nil {
		links = []archive.Link{}
	}
	return json.Marshal(links)
}

// lockProfile takes the profile row lock that serializes every display order
// change within the profile's partitions.
func lockProfile(ctx context.Context, tx *sql.Tx, profileID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM profiles WHERE id=$1 FOR UPDATE`, profileID).Scan(&id)
	if err != nil {
		return notFound(err, "lock profile")
	}
	return nil
}

// compactPartitions renumbers every partition of a profile 1..N, keeping the
// current relative order. Callers hold the profile lock.
func compactPartitions(ctx context.Context, tx *sql.Tx, profileID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE contributions c
		SET display_order = r.rank, updated_at = $2
		FROM (
			SELECT id, ROW_NUMBER() OVER (PARTITION BY item_type ORDER BY display_order, created_at, id) AS rank
			FROM contributions
			WHERE profile_id = $1
		) r
		WHERE c.id = r.id AND c.display_order <> r.rank
	`, profileID, now); err != nil {
		return fmt.Errorf("compact display orders: %w", err)
	}
	return nil
}

// InsertContribution stores c at the end of its partition and returns it with
// the assigned display order.
func (s *PostgresStore) InsertContribution(ctx context.Context, c archive.Contribution) (archive.Contribution, error) {
	links, err := encodeLinks(c.Links)
	if err != nil {
		return archive.Contribution{}, fmt.Errorf("encode links: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return archive.Contribution{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockProfile(ctx, tx, c.ProfileID); err != nil {
		return archive.Contribution{}, err
	}
	path, mime, size := attachmentArgs(c.Attachment)
	err = tx.QueryRowContext(ctx, `
		INSERT INTO contributions (id, profile_id, item_type, visibility, display_order, title, description, body, occurred_on,
			storage_path, mime_type, size_bytes, links, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4,
			(SELECT COALESCE(MAX(display_order), 0) + 1 FROM contributions WHERE profile_id=$2 AND item_type=$3),
			$5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING display_order
	`, c.ID, c.ProfileID, string(c.ItemType), c.Visibility.String(), c.Title, c.Description, c.Body, c.OccurredOn,
		path, mime, size, string(links), string(c.Status), c.CreatedAt).Scan(&c.DisplayOrder)
	if err != nil {
		return archive.Contribution{}, fmt.Errorf("insert contribution: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return archive.Contribution{}, fmt.Errorf("commit contribution: %w", err)
	}
	c.UpdatedAt = c.CreatedAt
	return c, nil
}

func (s *PostgresStore) UpdateContribution(ctx context.Context, c archive.Contribution) error {
	return updateContribution(ctx, s.db, c)
}

func updateContribution(ctx context.Context, q queryer, c archive.Contribution) error {
	links, err := encodeLinks(c.Links)
	if err != nil {
		return fmt.Errorf("encode links: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE contributions
		SET visibility=$2, title=$3, description=$4, body=$5, occurred_on=$6, links=$7,
			status=$8, submitted_at=$9, approved_at=$10, rejected_at=$11, reviewer_note=$12, updated_at=$13
		WHERE id=$1
	`, c.ID, c.Visibility.String(), c.Title, c.Description, c.Body, c.OccurredOn, string(links),
		string(c.Status), c.SubmittedAt, c.ApprovedAt, c.RejectedAt, c.ReviewerNote, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update contribution: %w", err)
	}
	return requireRow(res, "update contribution")
}

// DeleteContribution removes an item and closes the gap it leaves in its
// partition.
func (s *PostgresStore) DeleteContribution(ctx context.Context, itemID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var profileID string
	if err := tx.QueryRowContext(ctx, `SELECT profile_id FROM contributions WHERE id=$1`, itemID).Scan(&profileID); err != nil {
		return notFound(err, "delete contribution")
	}
	if err := lockProfile(ctx, tx, profileID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM contributions WHERE id=$1`, itemID)
	if err != nil {
		return fmt.Errorf("delete contribution: %w", err)
	}
	if err := requireRow(res, "delete contribution"); err != nil {
		return err
	}
	if err := compactPartitions(ctx, tx, profileID, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// SetDisplayOrders applies a full rank assignment for one profile in a single
// transaction, then closes any gaps so every partition is numbered 1..N.
func (s *PostgresStore) SetDisplayOrders(ctx context.Context, profileID string, ranks map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockProfile(ctx, tx, profileID); err != nil {
		return err
	}
	now := time.Now().UTC()
	for id, rank := range ranks {
		if _, err := tx.ExecContext(ctx, `
			UPDATE contributions SET display_order=$3, updated_at=$4
			WHERE id=$1 AND profile_id=$2
		`, id, profileID, rank, now); err != nil {
			return fmt.Errorf("set display order %s: %w", id, err)
		}
	}
	if err := compactPartitions(ctx, tx, profileID, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit display orders: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
