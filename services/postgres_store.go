package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/0xSterling/XChat/crypto"
	"github.com/0xSterling/XChat/protocol"
)

// PostgresStore implements LedgerStore and SecretStore with PostgreSQL
// persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS groups (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(256) NOT NULL,
		owner VARCHAR(128) NOT NULL,
		secret_handle VARCHAR(256) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id BIGINT NOT NULL REFERENCES groups(id),
		principal VARCHAR(128) NOT NULL,
		joined_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (group_id, principal)
	);

	CREATE TABLE IF NOT EXISTS messages (
		group_id BIGINT NOT NULL REFERENCES groups(id),
		seq BIGINT NOT NULL,
		log_id VARCHAR(128) NOT NULL UNIQUE,
		sender VARCHAR(128) NOT NULL,
		ciphertext TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		PRIMARY KEY (group_id, seq)
	);

	CREATE TABLE IF NOT EXISTS group_secrets (
		handle VARCHAR(256) PRIMARY KEY,
		secret VARCHAR(128) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) CreateGroup(ctx context.Context, group *protocol.Group) (protocol.GroupID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id uint64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO groups (name, owner, secret_handle, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, group.Name, group.Owner.String(), string(group.SecretHandle), group.CreatedAt).Scan(&id)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, principal) VALUES ($1, $2)
	`, id, group.Owner.String())
	if err != nil {
		return 0, err
	}

	return protocol.GroupID(id), tx.Commit()
}

func (s *PostgresStore) ReadGroup(ctx context.Context, id protocol.GroupID) (*protocol.Group, error) {
	var (
		name         string
		owner        string
		secretHandle string
		createdAt    time.Time
		memberCount  int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT g.name, g.owner, g.secret_handle, g.created_at,
			(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id)
		FROM groups g WHERE g.id = $1
	`, uint64(id)).Scan(&name, &owner, &secretHandle, &createdAt, &memberCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, protocol.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}

	ownerKey, err := crypto.NewPublicKeyFromString(owner)
	if err != nil {
		return nil, fmt.Errorf("stored owner key invalid: %w", err)
	}

	return &protocol.Group{
		ID:           id,
		Name:         name,
		Owner:        ownerKey,
		CreatedAt:    createdAt,
		MemberCount:  memberCount,
		SecretHandle: protocol.SecretHandle(secretHandle),
	}, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]protocol.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.owner, g.secret_handle, g.created_at,
			(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id)
		FROM groups g ORDER BY g.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.Group
	for rows.Next() {
		var (
			id           uint64
			name         string
			owner        string
			secretHandle string
			createdAt    time.Time
			memberCount  int
		)
		if err := rows.Scan(&id, &name, &owner, &secretHandle, &createdAt, &memberCount); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		ownerKey, err := crypto.NewPublicKeyFromString(owner)
		if err != nil {
			continue
		}
		out = append(out, protocol.Group{
			ID:           protocol.GroupID(id),
			Name:         name,
			Owner:        ownerKey,
			CreatedAt:    createdAt,
			MemberCount:  memberCount,
			SecretHandle: protocol.SecretHandle(secretHandle),
		})
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddMember(ctx context.Context, id protocol.GroupID, principal string) (int, error) {
	member, err := s.IsMember(ctx, id, principal)
	if err != nil {
		return 0, err
	}
	if member {
		return 0, protocol.ErrAlreadyMember
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, principal) VALUES ($1, $2)
		ON CONFLICT (group_id, principal) DO NOTHING
	`, uint64(id), principal)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_members WHERE group_id = $1
	`, uint64(id)).Scan(&count)
	return count, err
}

func (s *PostgresStore) IsMember(ctx context.Context, id protocol.GroupID, principal string) (bool, error) {
	if _, err := s.ReadGroup(ctx, id); err != nil {
		return false, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND principal = $2
	`, uint64(id), principal).Scan(&count)
	return count > 0, err
}

func (s *PostgresStore) NextSeq(ctx context.Context, id protocol.GroupID) (uint64, error) {
	var next uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq) + 1, 0) FROM messages WHERE group_id = $1
	`, uint64(id)).Scan(&next)
	return next, err
}

func (s *PostgresStore) AppendMessage(ctx context.Context, rec *protocol.MessageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (group_id, seq, log_id, sender, ciphertext, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uint64(rec.GroupID), rec.Seq, string(rec.LogID), rec.Sender.String(), rec.Ciphertext, rec.Timestamp)
	return err
}

func (s *PostgresStore) ReadRange(ctx context.Context, id protocol.GroupID, fromSeq, toSeq uint64, limit int) ([]protocol.MessageRecord, error) {
	if _, err := s.ReadGroup(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, log_id, sender, ciphertext, created_at
		FROM messages
		WHERE group_id = $1 AND seq >= $2 AND seq <= $3
		ORDER BY seq
		LIMIT $4
	`, uint64(id), fromSeq, toSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.MessageRecord
	for rows.Next() {
		var (
			seq        uint64
			logID      string
			sender     string
			ciphertext string
			createdAt  time.Time
		)
		if err := rows.Scan(&seq, &logID, &sender, &ciphertext, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		senderKey, err := crypto.NewPublicKeyFromString(sender)
		if err != nil {
			return nil, fmt.Errorf("stored sender key invalid: %w", err)
		}
		out = append(out, protocol.MessageRecord{
			GroupID:    id,
			Sender:     senderKey,
			Ciphertext: ciphertext,
			Timestamp:  createdAt,
			Seq:        seq,
			LogID:      protocol.LogIdentity(logID),
		})
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveSecret(ctx context.Context, handle protocol.SecretHandle, secret string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_secrets (handle, secret) VALUES ($1, $2)
	`, string(handle), secret)
	return err
}

func (s *PostgresStore) LoadSecret(ctx context.Context, handle protocol.SecretHandle) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx, `
		SELECT secret FROM group_secrets WHERE handle = $1
	`, string(handle)).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSecretNotFound
	}
	return secret, err
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
