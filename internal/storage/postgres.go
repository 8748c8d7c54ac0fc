package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/gatepass/internal/config"
	"github.com/your-org/gatepass/internal/face"
	"github.com/your-org/gatepass/internal/models"
	"github.com/your-org/gatepass/internal/storage/migrations"
)

// enrollmentLockKey is the advisory lock taken by every enrollment
// transaction.
const enrollmentLockKey int64 = 0x6761746570617373 // "gatepass"

// profileTables maps each role to the table holding its profiles. Table
// names are never taken from user input.
var profileTables = map[models.UserType]string{
	models.UserTypeStudent:    "students",
	models.UserTypeAdmin:      "admins",
	models.UserTypeHOD:        "hods",
	models.UserTypeSuperAdmin: "superadmins",
	models.UserTypeGuard:      "guards",
	models.UserTypeFaculty:    "faculty",
}

func profileTable(ut models.UserType) (string, error) {
	t, ok := profileTables[ut]
	if !ok {
		return "", fmt.Errorf("no profile table for user type %q", ut)
	}
	return t, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ face.Store = (*PostgresStore)(nil)

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ApplyMigrations brings the schema up to date using the embedded SQL files.
func (s *PostgresStore) ApplyMigrations() error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFaceByUser(ctx context.Context, userID string) (*models.FaceRecord, error) {
	return getFaceByUser(ctx, s.pool, userID)
}

func (s *PostgresStore) GetVector(ctx context.Context, vectorID string) (*models.EmbeddingVector, error) {
	v := &models.EmbeddingVector{}
	var emb pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, embedding FROM face_vectors WHERE id = $1`, vectorID,
	).Scan(&v.ID, &v.UserID, &emb)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get vector: %w", err)
	}
	v.Embedding = emb.Slice()
	return v, nil
}

func (s *PostgresStore) SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]models.SimilarityMatch, error) {
	return searchSimilar(ctx, s.pool, embedding, limit)
}

func (s *PostgresStore) Begin(ctx context.Context) (face.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &PostgresTx{tx: tx}, nil
}

// PostgresTx is one enrollment transaction.
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) LockEnrollment(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, enrollmentLockKey); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (t *PostgresTx) GetFaceByUser(ctx context.Context, userID string) (*models.FaceRecord, error) {
	return getFaceByUser(ctx, t.tx, userID)
}

func (t *PostgresTx) SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]models.SimilarityMatch, error) {
	return searchSimilar(ctx, t.tx, embedding, limit)
}

func (t *PostgresTx) DeleteVector(ctx context.Context, vectorID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM face_vectors WHERE id = $1`, vectorID); err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

func (t *PostgresTx) DeleteFace(ctx context.Context, faceID uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM faces WHERE id = $1`, faceID); err != nil {
		return fmt.Errorf("delete face: %w", err)
	}
	return nil
}

func (t *PostgresTx) InsertVector(ctx context.Context, v *models.EmbeddingVector) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO face_vectors (id, user_id, embedding) VALUES ($1, $2, $3)`,
		v.ID, v.UserID, pgvector.NewVector(v.Embedding),
	)
	if err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}
	return nil
}

func (t *PostgresTx) InsertFace(ctx context.Context, f *models.FaceRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO faces (id, user_id, user_type, image_data, vector_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.UserID, string(f.UserType), f.ImageData, f.VectorRef, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert face: %w", err)
	}
	return nil
}

func (t *PostgresTx) UpdateProfileFace(ctx context.Context, ut models.UserType, userID string, faceID *uuid.UUID, at time.Time) (bool, error) {
	table, err := profileTable(ut)
	if err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE `+table+` SET face_id = $1, updated_at = $2 WHERE id = $3`,
		faceID, at, userID,
	)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", table, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *PostgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *PostgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func getFaceByUser(ctx context.Context, q querier, userID string) (*models.FaceRecord, error) {
	f := &models.FaceRecord{}
	var userType string
	err := q.QueryRow(ctx,
		`SELECT id, user_id, user_type, image_data, vector_ref, created_at
		 FROM faces WHERE user_id = $1`, userID,
	).Scan(&f.ID, &f.UserID, &userType, &f.ImageData, &f.VectorRef, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get face: %w", err)
	}
	f.UserType = models.UserType(userType)
	return f, nil
}

// searchSimilar returns the limit nearest stored vectors by cosine
// similarity, best first.
func searchSimilar(ctx context.Context, q querier, embedding []float32, limit int) ([]models.SimilarityMatch, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := q.Query(ctx,
		`SELECT id, user_id, 1 - (embedding <=> $1) AS score
		 FROM face_vectors
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	var matches []models.SimilarityMatch
	for rows.Next() {
		var m models.SimilarityMatch
		if err := rows.Scan(&m.VectorID, &m.UserID, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
