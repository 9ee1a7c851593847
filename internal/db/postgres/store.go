// Package postgres stores Pulse entities in Postgres through a pgx pool.
// Its behaviour matches the SQLite store row for row; the lifecycle rules
// are carried by conditional updates, a partial unique index and a trigger.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soaringjerry/Pulse/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New applies the schema on an existing pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Pool exposes the pool for tests and maintenance commands.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// jsonArg marshals v for a JSONB column; empty values become NULL.
func jsonArg(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func spotlightArg(sp models.Spotlight, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := models.EncodeSpotlight(sp)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func textArg(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// cycles

const cycleColumns = `id, status, label, survey_questions, created_at`

func scanCycle(row pgx.Row) (*models.Cycle, error) {
	var (
		c         models.Cycle
		status    string
		questions []byte
	)
	if err := row.Scan(&c.ID, &status, &c.Label, &questions, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = models.CycleStatus(status)
	c.SurveyQuestions = models.DecodeSurveyQuestions(questions)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func insertCycle(ctx context.Context, db dbtx, c *models.Cycle) error {
	questions, err := jsonArg(c.SurveyQuestions, len(c.SurveyQuestions) == 0)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO cycles (`+cycleColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, string(c.Status), c.Label, questions, c.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return models.ErrDuplicate
	}
	return err
}

func (s *Store) CurrentCycle(ctx context.Context) (*models.Cycle, error) {
	c, err := scanCycle(s.pool.QueryRow(ctx, `SELECT c.id, c.status, c.label, c.survey_questions, c.created_at
		FROM cycle_pointer p JOIN cycles c ON c.id = p.cycle_id WHERE p.id = 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *Store) GetCycle(ctx context.Context, id string) (*models.Cycle, error) {
	c, err := scanCycle(s.pool.QueryRow(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return c, err
}

func (s *Store) CreateCycleIfNone(ctx context.Context, c *models.Cycle) (*models.Cycle, bool, error) {
	if cur, err := s.CurrentCycle(ctx); err != nil || cur != nil {
		return cur, false, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := insertCycle(ctx, tx, c); err != nil {
		return nil, false, err
	}
	tag, err := tx.Exec(ctx, `INSERT INTO cycle_pointer (id, cycle_id) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`, c.ID)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		cur, err := s.CurrentCycle(ctx)
		return cur, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return c.Clone(), true, nil
}

const isCurrentCycle = `id = (SELECT cycle_id FROM cycle_pointer WHERE id = 1)`

// SetCycleStatus matches only while id is the current cycle and still has
// status from.
func (s *Store) SetCycleStatus(ctx context.Context, id string, from, to models.CycleStatus) (*models.Cycle, error) {
	c, err := scanCycle(s.pool.QueryRow(ctx, `UPDATE cycles SET status = $1
		WHERE id = $2 AND status = $3 AND `+isCurrentCycle+` RETURNING `+cycleColumns, string(to), id, string(from)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.cycleRejected(ctx, id)
	}
	return c, err
}

// SetCycleQuestions rewrites the survey column only, while id is current.
func (s *Store) SetCycleQuestions(ctx context.Context, id string, questions []models.SurveyQuestion) (*models.Cycle, error) {
	raw, err := jsonArg(questions, len(questions) == 0)
	if err != nil {
		return nil, err
	}
	c, err := scanCycle(s.pool.QueryRow(ctx, `UPDATE cycles SET survey_questions = $1
		WHERE id = $2 AND `+isCurrentCycle+` RETURNING `+cycleColumns, raw, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.cycleRejected(ctx, id)
	}
	return c, err
}

func (s *Store) cycleRejected(ctx context.Context, id string) error {
	if _, err := s.GetCycle(ctx, id); err != nil {
		return err
	}
	return models.ErrConflict
}

func (s *Store) AdvanceCycle(ctx context.Context, archiveID string, next *models.Cycle) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := insertCycle(ctx, tx, next); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE cycle_pointer SET cycle_id = $1 WHERE id = 1 AND cycle_id = $2`, next.ID, archiveID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrConflict
	}
	if _, err := tx.Exec(ctx, `UPDATE cycles SET status = $1 WHERE id = $2`, string(models.CycleArchived), archiveID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// submissions

const submissionColumns = `id, cycle_id, created_at, mode, stability_score, pillar_responses, mood, word,
	device_hash, spotlight_state, spotlight_tags, spotlight_comment, is_flagged`

func scanSubmission(row pgx.Row) (*models.Submission, error) {
	var (
		sub       models.Submission
		mode      string
		score     *int32
		responses []byte
		mood      string
		device    *string
		state     *string
		tags      []byte
		comment   *string
	)
	if err := row.Scan(&sub.ID, &sub.CycleID, &sub.CreatedAt, &mode, &score, &responses, &mood, &sub.Word,
		&device, &state, &tags, &comment, &sub.IsFlagged); err != nil {
		return nil, err
	}
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.Mode = models.SubmissionMode(mode)
	sub.StabilityScore = int(deref(score))
	if len(responses) > 0 {
		if err := json.Unmarshal(responses, &sub.PillarResponses); err != nil {
			log.Printf("postgres store: decode pillar responses %s: %v", sub.ID, err)
		}
	}
	sub.Mood = models.Mood(mood)
	sub.DeviceHash = deref(device)
	sub.SpotlightState = deref(state)
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &sub.SpotlightTags); err != nil {
			log.Printf("postgres store: decode spotlight tags %s: %v", sub.ID, err)
		}
	}
	sub.SpotlightComment = deref(comment)
	return &sub, nil
}

func insertSubmission(ctx context.Context, db dbtx, sub *models.Submission) error {
	responses, err := jsonArg(sub.PillarResponses, len(sub.PillarResponses) == 0)
	if err != nil {
		return err
	}
	tags, err := jsonArg(sub.SpotlightTags, len(sub.SpotlightTags) == 0)
	if err != nil {
		return err
	}
	var score any
	if sub.StabilityScore != 0 {
		score = sub.StabilityScore
	}
	_, err = db.Exec(ctx, `INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.CycleID, sub.CreatedAt.UTC(), string(sub.Mode), score, responses, string(sub.Mood), sub.Word,
		textArg(sub.DeviceHash), textArg(sub.SpotlightState), tags, textArg(sub.SpotlightComment), sub.IsFlagged)
	if isUniqueViolation(err) {
		return models.ErrDuplicate
	}
	return err
}

func (s *Store) InsertSubmission(ctx context.Context, sub *models.Submission) error {
	return insertSubmission(ctx, s.pool, sub)
}

func (s *Store) FindSubmissionByDevice(ctx context.Context, cycleID, deviceHash string) (*models.Submission, error) {
	if deviceHash == "" {
		return nil, nil
	}
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE cycle_id = $1 AND device_hash = $2`, cycleID, deviceHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

func (s *Store) SetSubmissionFlag(ctx context.Context, id string, flagged bool) (*models.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`UPDATE submissions SET is_flagged = $1 WHERE id = $2 RETURNING `+submissionColumns, flagged, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return sub, err
}

func (s *Store) ListSubmissions(ctx context.Context, cycleID string, includeFlagged bool) ([]*models.Submission, error) {
	q := `SELECT ` + submissionColumns + ` FROM submissions WHERE cycle_id = $1`
	if !includeFlagged {
		q += ` AND NOT is_flagged`
	}
	rows, err := s.pool.Query(ctx, q+` ORDER BY created_at, id`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// snapshots

const snapshotColumns = `id, cycle_id, period, overall_score, narrative, pillars, state_spotlight,
	institution_spotlight, street_pulse_spotlight, sources, sentiment, published_at, is_locked, created_at, updated_at`

func scanSnapshot(row pgx.Row) (*models.Snapshot, error) {
	var (
		snap        models.Snapshot
		cycleID     *string
		pillars     []byte
		state       []byte
		institution []byte
		street      []byte
		sources     []byte
		sentiment   []byte
	)
	if err := row.Scan(&snap.ID, &cycleID, &snap.Period, &snap.OverallScore, &snap.Narrative, &pillars, &state,
		&institution, &street, &sources, &sentiment, &snap.PublishedAt, &snap.IsLocked, &snap.CreatedAt, &snap.UpdatedAt); err != nil {
		return nil, err
	}
	snap.CycleID = deref(cycleID)
	snap.Pillars = models.DecodePillarScores(pillars)
	snap.StateSpotlight = models.DecodeStateSpotlight(state)
	snap.InstitutionSpotlight = models.DecodeInstitutionSpotlight(institution)
	snap.StreetPulseSpotlight = models.DecodeStreetPulseSpotlight(street)
	snap.Sources = models.DecodeSources(sources)
	snap.Sentiment = models.DecodeSentiment(sentiment)
	if snap.PublishedAt != nil {
		t := snap.PublishedAt.UTC()
		snap.PublishedAt = &t
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	snap.UpdatedAt = snap.UpdatedAt.UTC()
	return &snap, nil
}

// snapshotContent returns the editable columns, cycle_id through sentiment.
func snapshotContent(snap *models.Snapshot) ([]any, error) {
	pillars, err := jsonArg(snap.Pillars, len(snap.Pillars) == 0)
	if err != nil {
		return nil, err
	}
	state, err := spotlightArg(snap.StateSpotlight, snap.StateSpotlight == nil)
	if err != nil {
		return nil, err
	}
	institution, err := spotlightArg(snap.InstitutionSpotlight, snap.InstitutionSpotlight == nil)
	if err != nil {
		return nil, err
	}
	street, err := spotlightArg(snap.StreetPulseSpotlight, snap.StreetPulseSpotlight == nil)
	if err != nil {
		return nil, err
	}
	sources, err := jsonArg(snap.Sources, len(snap.Sources) == 0)
	if err != nil {
		return nil, err
	}
	sentiment, err := jsonArg(snap.Sentiment, snap.Sentiment == nil)
	if err != nil {
		return nil, err
	}
	return []any{textArg(snap.CycleID), snap.Period, snap.OverallScore, snap.Narrative, pillars, state,
		institution, street, sources, sentiment}, nil
}

func insertSnapshot(ctx context.Context, db dbtx, snap *models.Snapshot) error {
	content, err := snapshotContent(snap)
	if err != nil {
		return err
	}
	var published any
	if snap.PublishedAt != nil {
		published = snap.PublishedAt.UTC()
	}
	args := append([]any{snap.ID}, content...)
	args = append(args, published, snap.IsLocked, snap.CreatedAt.UTC(), snap.UpdatedAt.UTC())
	_, err = db.Exec(ctx, `INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`, args...)
	if isUniqueViolation(err) {
		return models.ErrDuplicate
	}
	return err
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return snap, err
}

func (s *Store) ListSnapshots(ctx context.Context) ([]*models.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM snapshots ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) InsertSnapshot(ctx context.Context, snap *models.Snapshot) error {
	return insertSnapshot(ctx, s.pool, snap)
}

func (s *Store) UpdateSnapshotContent(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error) {
	content, err := snapshotContent(snap)
	if err != nil {
		return nil, err
	}
	args := append(content, snap.UpdatedAt.UTC(), snap.ID)
	out, err := scanSnapshot(s.pool.QueryRow(ctx, `UPDATE snapshots SET cycle_id = $1, period = $2, overall_score = $3,
		narrative = $4, pillars = $5, state_spotlight = $6, institution_spotlight = $7, street_pulse_spotlight = $8,
		sources = $9, sentiment = $10, updated_at = $11 WHERE id = $12 AND NOT is_locked RETURNING `+snapshotColumns, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.rejected(ctx, snap.ID)
	}
	return out, err
}

func (s *Store) rejected(ctx context.Context, id string) error {
	if _, err := s.GetSnapshot(ctx, id); err != nil {
		return err
	}
	return models.ErrConflict
}

func (s *Store) PublishSnapshot(ctx context.Context, id string, at time.Time) (*models.Snapshot, bool, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, `UPDATE snapshots SET published_at = $1, updated_at = $1
		WHERE id = $2 AND NOT is_locked AND published_at IS NULL RETURNING `+snapshotColumns, at.UTC(), id))
	if err == nil {
		return snap, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	snap, err = s.GetSnapshot(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if snap.IsLocked {
		return nil, false, models.ErrConflict
	}
	return snap, false, nil
}

func (s *Store) LockSnapshot(ctx context.Context, id string, at time.Time) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, `UPDATE snapshots SET is_locked = TRUE, updated_at = $1
		WHERE id = $2 AND NOT is_locked AND published_at IS NOT NULL RETURNING `+snapshotColumns, at.UTC(), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.rejected(ctx, id)
	}
	return snap, err
}

func (s *Store) LatestPublishedSnapshot(ctx context.Context) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE published_at IS NOT NULL ORDER BY published_at DESC, id DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return snap, err
}

func (s *Store) HasPublishedSnapshotForCycle(ctx context.Context, cycleID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM snapshots WHERE cycle_id = $1 AND published_at IS NOT NULL)`, cycleID).Scan(&ok)
	return ok, err
}

// audit log

func appendAudit(ctx context.Context, db dbtx, e models.AuditEntry) error {
	meta, err := jsonArg(e.Metadata, len(e.Metadata) == 0)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO audit_log (at, actor, action, target, metadata) VALUES ($1, $2, $3, $4, $5)`,
		e.Time.UTC(), e.Actor, e.Action, e.Target, meta)
	return err
}

func (s *Store) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	return appendAudit(ctx, s.pool, e)
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		return []models.AuditEntry{}, nil
	}
	return s.queryAudit(ctx, `SELECT at, actor, action, target, metadata FROM audit_log ORDER BY id DESC LIMIT $1`, limit)
}

func (s *Store) queryAudit(ctx context.Context, q string, args ...any) ([]models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.AuditEntry{}
	for rows.Next() {
		var (
			e    models.AuditEntry
			meta []byte
		)
		if err := rows.Scan(&e.Time, &e.Actor, &e.Action, &e.Target, &meta); err != nil {
			return nil, err
		}
		e.Time = e.Time.UTC()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				log.Printf("postgres store: decode audit metadata: %v", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// dataset

func (s *Store) ExportDataset(ctx context.Context) (*models.Dataset, error) {
	ds := &models.Dataset{Version: models.DatasetVersion}
	cur, err := s.CurrentCycle(ctx)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		ds.CurrentCycleID = cur.ID
	}

	rows, err := s.pool.Query(ctx, `SELECT `+cycleColumns+` FROM cycles ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ds.Cycles = append(ds.Cycles, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `SELECT `+submissionColumns+` FROM submissions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ds.Submissions = append(ds.Submissions, models.NewDatasetSubmission(sub))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snaps, err := s.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		ds.Snapshots = append(ds.Snapshots, snaps[i])
	}
	ds.Audit, err = s.queryAudit(ctx, `SELECT at, actor, action, target, metadata FROM audit_log ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// ImportDataset loads ds into an empty database in one transaction.
func (s *Store) ImportDataset(ctx context.Context, ds *models.Dataset) error {
	if ds == nil {
		return errors.New("nil dataset")
	}
	var existing int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM cycles`).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		return fmt.Errorf("import dataset: target store already has %d cycles", existing)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, c := range ds.Cycles {
		if err := insertCycle(ctx, tx, c); err != nil {
			return fmt.Errorf("import cycle %s: %w", c.ID, err)
		}
	}
	if ds.CurrentCycleID != "" {
		if _, err := tx.Exec(ctx, `INSERT INTO cycle_pointer (id, cycle_id) VALUES (1, $1)`, ds.CurrentCycleID); err != nil {
			return fmt.Errorf("import current cycle: %w", err)
		}
	}
	for _, ws := range ds.Submissions {
		if err := insertSubmission(ctx, tx, ws.Unwrap()); err != nil {
			return fmt.Errorf("import submission %s: %w", ws.ID, err)
		}
	}
	for _, snap := range ds.Snapshots {
		if err := insertSnapshot(ctx, tx, snap); err != nil {
			return fmt.Errorf("import snapshot %s: %w", snap.ID, err)
		}
	}
	for _, e := range ds.Audit {
		if err := appendAudit(ctx, tx, e); err != nil {
			return fmt.Errorf("import audit entry: %w", err)
		}
	}
	return tx.Commit(ctx)
}
