package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/soaringjerry/Pulse/internal/models"
)

// SQLiteStore keeps the entity store in one SQLite file. It works with any
// database/sql SQLite driver; the server uses mattn/go-sqlite3 and the tools
// and tests use modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Times are stored as fixed-width UTC text so that they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		log.Printf("sqlite store: parse time %q: %v", v, err)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullInt(i int) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(i), Valid: true}
}

// encodeJSON stores empty values as NULL.
func encodeJSON[T any](v T, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func encodeSpotlight(sp models.Spotlight, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := models.EncodeSpotlight(sp)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullBytes(ns sql.NullString) []byte {
	if !ns.Valid {
		return nil
	}
	return []byte(ns.String)
}

func decodeStringMap(ns sql.NullString) map[string]string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		log.Printf("sqlite store: decode string map: %v", err)
		return nil
	}
	return out
}

func decodeStrings(ns sql.NullString) []string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		log.Printf("sqlite store: decode string list: %v", err)
		return nil
	}
	return out
}

func decodePillarResponses(ns sql.NullString) map[models.Pillar]int {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out map[models.Pillar]int
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		log.Printf("sqlite store: decode pillar responses: %v", err)
		return nil
	}
	return out
}

// isUniqueViolation matches the constraint error text shared by the SQLite
// drivers.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// cycles

const cycleColumns = `id, status, label, survey_questions, created_at`

func scanCycle(row rowScanner) (*models.Cycle, error) {
	var (
		c         models.Cycle
		status    string
		questions sql.NullString
		created   string
	)
	if err := row.Scan(&c.ID, &status, &c.Label, &questions, &created); err != nil {
		return nil, err
	}
	c.Status = models.CycleStatus(status)
	c.SurveyQuestions = models.DecodeSurveyQuestions(nullBytes(questions))
	c.CreatedAt = parseTime(created)
	return &c, nil
}

func cycleArgs(c *models.Cycle) ([]any, error) {
	questions, err := encodeJSON(c.SurveyQuestions, len(c.SurveyQuestions) == 0)
	if err != nil {
		return nil, err
	}
	return []any{c.ID, string(c.Status), c.Label, questions, formatTime(c.CreatedAt)}, nil
}

func (s *SQLiteStore) CurrentCycle(ctx context.Context) (*models.Cycle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT c.id, c.status, c.label, c.survey_questions, c.created_at
		FROM cycle_pointer p JOIN cycles c ON c.id = p.cycle_id WHERE p.id = 1`)
	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) GetCycle(ctx context.Context, id string) (*models.Cycle, error) {
	c, err := scanCycle(s.db.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return c, err
}

// CreateCycleIfNone relies on the single-row pointer table: the first
// transaction to claim row 1 wins and later callers read its cycle.
func (s *SQLiteStore) CreateCycleIfNone(ctx context.Context, c *models.Cycle) (*models.Cycle, bool, error) {
	if cur, err := s.CurrentCycle(ctx); err != nil || cur != nil {
		return cur, false, err
	}
	args, err := cycleArgs(c)
	if err != nil {
		return nil, false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT INTO cycles (`+cycleColumns+`) VALUES (?, ?, ?, ?, ?)`, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, false, models.ErrDuplicate
		}
		return nil, false, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO cycle_pointer (id, cycle_id) VALUES (1, ?) ON CONFLICT (id) DO NOTHING`, c.ID)
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		cur, err := s.CurrentCycle(ctx)
		return cur, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return c.Clone(), true, nil
}

const isCurrentCycle = `id = (SELECT cycle_id FROM cycle_pointer WHERE id = 1)`

// SetCycleStatus matches only while id is the current cycle and still has
// status from.
func (s *SQLiteStore) SetCycleStatus(ctx context.Context, id string, from, to models.CycleStatus) (*models.Cycle, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE cycles SET status = ? WHERE id = ? AND status = ? AND `+isCurrentCycle,
		string(to), id, string(from))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.cycleRejected(ctx, id)
	}
	return s.GetCycle(ctx, id)
}

// SetCycleQuestions rewrites the survey column only, while id is current.
func (s *SQLiteStore) SetCycleQuestions(ctx context.Context, id string, questions []models.SurveyQuestion) (*models.Cycle, error) {
	raw, err := encodeJSON(questions, len(questions) == 0)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE cycles SET survey_questions = ? WHERE id = ? AND `+isCurrentCycle, raw, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.cycleRejected(ctx, id)
	}
	return s.GetCycle(ctx, id)
}

func (s *SQLiteStore) cycleRejected(ctx context.Context, id string) error {
	if _, err := s.GetCycle(ctx, id); err != nil {
		return err
	}
	return models.ErrConflict
}

// AdvanceCycle moves the pointer only while it still names archiveID.
func (s *SQLiteStore) AdvanceCycle(ctx context.Context, archiveID string, next *models.Cycle) error {
	args, err := cycleArgs(next)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT INTO cycles (`+cycleColumns+`) VALUES (?, ?, ?, ?, ?)`, args...); err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicate
		}
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE cycle_pointer SET cycle_id = ? WHERE id = 1 AND cycle_id = ?`, next.ID, archiveID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrConflict
	}
	if _, err := tx.ExecContext(ctx, `UPDATE cycles SET status = ? WHERE id = ?`, string(models.CycleArchived), archiveID); err != nil {
		return err
	}
	return tx.Commit()
}

// submissions

const submissionColumns = `id, cycle_id, created_at, mode, stability_score, pillar_responses, mood, word,
	device_hash, spotlight_state, spotlight_tags, spotlight_comment, is_flagged`

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var (
		sub       models.Submission
		created   string
		mode      string
		score     sql.NullInt64
		responses sql.NullString
		mood      string
		device    sql.NullString
		state     sql.NullString
		tags      sql.NullString
		comment   sql.NullString
		flagged   int64
	)
	if err := row.Scan(&sub.ID, &sub.CycleID, &created, &mode, &score, &responses, &mood, &sub.Word,
		&device, &state, &tags, &comment, &flagged); err != nil {
		return nil, err
	}
	sub.CreatedAt = parseTime(created)
	sub.Mode = models.SubmissionMode(mode)
	sub.StabilityScore = int(score.Int64)
	sub.PillarResponses = decodePillarResponses(responses)
	sub.Mood = models.Mood(mood)
	sub.DeviceHash = device.String
	sub.SpotlightState = state.String
	sub.SpotlightTags = decodeStrings(tags)
	sub.SpotlightComment = comment.String
	sub.IsFlagged = flagged != 0
	return &sub, nil
}

func submissionArgs(sub *models.Submission) ([]any, error) {
	responses, err := encodeJSON(sub.PillarResponses, len(sub.PillarResponses) == 0)
	if err != nil {
		return nil, err
	}
	tags, err := encodeJSON(sub.SpotlightTags, len(sub.SpotlightTags) == 0)
	if err != nil {
		return nil, err
	}
	return []any{
		sub.ID, sub.CycleID, formatTime(sub.CreatedAt), string(sub.Mode), toNullInt(sub.StabilityScore), responses,
		string(sub.Mood), sub.Word, toNullString(sub.DeviceHash), toNullString(sub.SpotlightState), tags,
		toNullString(sub.SpotlightComment), boolToInt64(sub.IsFlagged),
	}, nil
}

func (s *SQLiteStore) InsertSubmission(ctx context.Context, sub *models.Submission) error {
	args, err := submissionArgs(sub)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO submissions (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if isUniqueViolation(err) {
		return models.ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) FindSubmissionByDevice(ctx context.Context, cycleID, deviceHash string) (*models.Submission, error) {
	if strings.TrimSpace(deviceHash) == "" {
		return nil, nil
	}
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE cycle_id = ? AND device_hash = ?`, cycleID, deviceHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

func (s *SQLiteStore) SetSubmissionFlag(ctx context.Context, id string, flagged bool) (*models.Submission, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE submissions SET is_flagged = ? WHERE id = ?`, boolToInt64(flagged), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrNotFound
	}
	return scanSubmission(s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id))
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, cycleID string, includeFlagged bool) ([]*models.Submission, error) {
	q := `SELECT ` + submissionColumns + ` FROM submissions WHERE cycle_id = ?`
	if !includeFlagged {
		q += ` AND is_flagged = 0`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY created_at, id`, cycleID)
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

func scanSnapshot(row rowScanner) (*models.Snapshot, error) {
	var (
		snap        models.Snapshot
		cycleID     sql.NullString
		pillars     sql.NullString
		state       sql.NullString
		institution sql.NullString
		street      sql.NullString
		sources     sql.NullString
		sentiment   sql.NullString
		published   sql.NullString
		locked      int64
		created     string
		updated     string
	)
	if err := row.Scan(&snap.ID, &cycleID, &snap.Period, &snap.OverallScore, &snap.Narrative, &pillars, &state,
		&institution, &street, &sources, &sentiment, &published, &locked, &created, &updated); err != nil {
		return nil, err
	}
	snap.CycleID = cycleID.String
	snap.Pillars = models.DecodePillarScores(nullBytes(pillars))
	snap.StateSpotlight = models.DecodeStateSpotlight(nullBytes(state))
	snap.InstitutionSpotlight = models.DecodeInstitutionSpotlight(nullBytes(institution))
	snap.StreetPulseSpotlight = models.DecodeStreetPulseSpotlight(nullBytes(street))
	snap.Sources = models.DecodeSources(nullBytes(sources))
	snap.Sentiment = models.DecodeSentiment(nullBytes(sentiment))
	if published.Valid {
		t := parseTime(published.String)
		snap.PublishedAt = &t
	}
	snap.IsLocked = locked != 0
	snap.CreatedAt = parseTime(created)
	snap.UpdatedAt = parseTime(updated)
	return &snap, nil
}

// snapshotContent encodes the editable columns in snapshotColumns order,
// from cycle_id through sentiment.
func snapshotContent(snap *models.Snapshot) ([]any, error) {
	pillars, err := encodeJSON(snap.Pillars, len(snap.Pillars) == 0)
	if err != nil {
		return nil, err
	}
	state, err := encodeSpotlight(snap.StateSpotlight, snap.StateSpotlight == nil)
	if err != nil {
		return nil, err
	}
	institution, err := encodeSpotlight(snap.InstitutionSpotlight, snap.InstitutionSpotlight == nil)
	if err != nil {
		return nil, err
	}
	street, err := encodeSpotlight(snap.StreetPulseSpotlight, snap.StreetPulseSpotlight == nil)
	if err != nil {
		return nil, err
	}
	sources, err := encodeJSON(snap.Sources, len(snap.Sources) == 0)
	if err != nil {
		return nil, err
	}
	sentiment, err := encodeJSON(snap.Sentiment, snap.Sentiment == nil)
	if err != nil {
		return nil, err
	}
	return []any{toNullString(snap.CycleID), snap.Period, snap.OverallScore, snap.Narrative, pillars, state,
		institution, street, sources, sentiment}, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return snap, err
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]*models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots ORDER BY created_at DESC, id DESC`)
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

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snap *models.Snapshot) error {
	content, err := snapshotContent(snap)
	if err != nil {
		return err
	}
	args := append([]any{snap.ID}, content...)
	args = append(args, nullTime(snap.PublishedAt), boolToInt64(snap.IsLocked), formatTime(snap.CreatedAt), formatTime(snap.UpdatedAt))
	_, err = s.db.ExecContext(ctx, `INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if isUniqueViolation(err) {
		return models.ErrDuplicate
	}
	return err
}

// UpdateSnapshotContent rewrites the editable columns of an unlocked row.
// Publication state and creation time are never touched here.
func (s *SQLiteStore) UpdateSnapshotContent(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error) {
	content, err := snapshotContent(snap)
	if err != nil {
		return nil, err
	}
	args := append(content, formatTime(snap.UpdatedAt), snap.ID)
	res, err := s.db.ExecContext(ctx, `UPDATE snapshots SET cycle_id = ?, period = ?, overall_score = ?, narrative = ?,
		pillars = ?, state_spotlight = ?, institution_spotlight = ?, street_pulse_spotlight = ?, sources = ?,
		sentiment = ?, updated_at = ? WHERE id = ? AND is_locked = 0`, args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.rejected(ctx, snap.ID)
	}
	return s.GetSnapshot(ctx, snap.ID)
}

// rejected explains a conditional write that matched no row.
func (s *SQLiteStore) rejected(ctx context.Context, id string) error {
	if _, err := s.GetSnapshot(ctx, id); err != nil {
		return err
	}
	return models.ErrConflict
}

func (s *SQLiteStore) PublishSnapshot(ctx context.Context, id string, at time.Time) (*models.Snapshot, bool, error) {
	ts := formatTime(at)
	res, err := s.db.ExecContext(ctx, `UPDATE snapshots SET published_at = ?, updated_at = ?
		WHERE id = ? AND is_locked = 0 AND published_at IS NULL`, ts, ts, id)
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		snap, err := s.GetSnapshot(ctx, id)
		return snap, true, err
	}
	snap, err := s.GetSnapshot(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if snap.IsLocked {
		return nil, false, models.ErrConflict
	}
	return snap, false, nil
}

func (s *SQLiteStore) LockSnapshot(ctx context.Context, id string, at time.Time) (*models.Snapshot, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE snapshots SET is_locked = 1, updated_at = ?
		WHERE id = ? AND is_locked = 0 AND published_at IS NOT NULL`, formatTime(at), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.rejected(ctx, id)
	}
	return s.GetSnapshot(ctx, id)
}

func (s *SQLiteStore) LatestPublishedSnapshot(ctx context.Context) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE published_at IS NOT NULL ORDER BY published_at DESC, id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return snap, err
}

func (s *SQLiteStore) HasPublishedSnapshotForCycle(ctx context.Context, cycleID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM snapshots WHERE cycle_id = ? AND published_at IS NOT NULL`, cycleID).Scan(&n)
	return n > 0, err
}

// audit log

func (s *SQLiteStore) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	meta, err := encodeJSON(e.Metadata, len(e.Metadata) == 0)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_log (at, actor, action, target, metadata) VALUES (?, ?, ?, ?, ?)`,
		formatTime(e.Time), e.Actor, e.Action, e.Target, meta)
	return err
}

func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		return []models.AuditEntry{}, nil
	}
	return s.queryAudit(ctx, `SELECT at, actor, action, target, metadata FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) queryAudit(ctx context.Context, q string, args ...any) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.AuditEntry{}
	for rows.Next() {
		var (
			e    models.AuditEntry
			at   string
			meta sql.NullString
		)
		if err := rows.Scan(&at, &e.Actor, &e.Action, &e.Target, &meta); err != nil {
			return nil, err
		}
		e.Time = parseTime(at)
		e.Metadata = decodeStringMap(meta)
		out = append(out, e)
	}
	return out, rows.Err()
}

// dataset

func (s *SQLiteStore) ExportDataset(ctx context.Context) (*models.Dataset, error) {
	ds := &models.Dataset{Version: models.DatasetVersion}
	if cur, err := s.CurrentCycle(ctx); err != nil {
		return nil, err
	} else if cur != nil {
		ds.CurrentCycleID = cur.ID
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+cycleColumns+` FROM cycles ORDER BY created_at, id`)
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

	rows, err = s.db.QueryContext(ctx, `SELECT `+submissionColumns+` FROM submissions ORDER BY created_at, id`)
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

// ImportDataset loads ds into an empty store in one transaction.
func (s *SQLiteStore) ImportDataset(ctx context.Context, ds *models.Dataset) error {
	if ds == nil {
		return errors.New("nil dataset")
	}
	var existing int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM cycles`).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		return fmt.Errorf("import dataset: target store already has %d cycles", existing)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range ds.Cycles {
		args, err := cycleArgs(c)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO cycles (`+cycleColumns+`) VALUES (?, ?, ?, ?, ?)`, args...); err != nil {
			return fmt.Errorf("import cycle %s: %w", c.ID, err)
		}
	}
	if ds.CurrentCycleID != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO cycle_pointer (id, cycle_id) VALUES (1, ?)`, ds.CurrentCycleID); err != nil {
			return fmt.Errorf("import current cycle: %w", err)
		}
	}
	for _, ws := range ds.Submissions {
		args, err := submissionArgs(ws.Unwrap())
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO submissions (`+submissionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return fmt.Errorf("import submission %s: %w", ws.ID, err)
		}
	}
	for _, snap := range ds.Snapshots {
		content, err := snapshotContent(snap)
		if err != nil {
			return err
		}
		args := append([]any{snap.ID}, content...)
		args = append(args, nullTime(snap.PublishedAt), boolToInt64(snap.IsLocked), formatTime(snap.CreatedAt), formatTime(snap.UpdatedAt))
		if _, err := tx.ExecContext(ctx, `INSERT INTO snapshots (`+snapshotColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return fmt.Errorf("import snapshot %s: %w", snap.ID, err)
		}
	}
	for _, e := range ds.Audit {
		meta, err := encodeJSON(e.Metadata, len(e.Metadata) == 0)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO audit_log (at, actor, action, target, metadata) VALUES (?, ?, ?, ?, ?)`,
			formatTime(e.Time), e.Actor, e.Action, e.Target, meta); err != nil {
			return fmt.Errorf("import audit entry: %w", err)
		}
	}
	return tx.Commit()
}
