package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowcraft.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

// PutWorkflow inserts or replaces a cached workflow. The id defaults to the
// document's workflow_id.
func (s *LibSQLStore) PutWorkflow(ctx context.Context, wf *StoredWorkflow) error {
	return putWorkflow(ctx, s.db, wf)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putWorkflow(ctx context.Context, db execer, wf *StoredWorkflow) error {
	if wf == nil || wf.Document == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow document is required")
	}
	if wf.ID == "" {
		wf.ID = wf.Document.WorkflowID.String()
	}
	if wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	if wf.Name == "" {
		wf.Name = wf.Document.WorkflowName
	}
	doc, err := json.Marshal(wf.Document)
	if err != nil {
		return fmt.Errorf("marshal workflow document: %w", err)
	}
	wf.UpdatedAt = time.Now().UTC()
	_, err = db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, prompt, document, active, public, version, saved_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, prompt=COALESCE(excluded.prompt, workflows.prompt),
		   document=excluded.document, active=excluded.active, public=excluded.public,
		   version=excluded.version, saved_at=COALESCE(excluded.saved_at, workflows.saved_at),
		   updated_at=excluded.updated_at`,
		wf.ID, wf.Name, nullStr(wf.Prompt), string(doc), wf.Active, wf.Public, int64(wf.Version),
		nullTime(wf.SavedAt), wf.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*StoredWorkflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, prompt, document, active, public, version, saved_at, updated_at
		 FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*StoredWorkflow, error) {
	query := `SELECT id, name, prompt, document, active, public, version, saved_at, updated_at FROM workflows`
	var where []string
	var args []any
	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, *filter.Active)
	}
	if filter.Name != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+filter.Name+"%")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wfs []*StoredWorkflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		wfs = append(wfs, wf)
	}
	return wfs, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// KnownWorkflowIDs returns every cached workflow id.
func (s *LibSQLStore) KnownWorkflowIDs(ctx context.Context) (KnownIDs, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM workflows`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := KnownIDs{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = struct{}{}
	}
	return known, rows.Err()
}

// ReplaceWorkflows makes the cache mirror wfs: every entry is upserted and
// rows whose id is absent from wfs are removed.
func (s *LibSQLStore) ReplaceWorkflows(ctx context.Context, wfs []*StoredWorkflow) (SyncResult, error) {
	var result SyncResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin sync tx: %w", err)
	}
	defer tx.Rollback()

	keep := make([]any, 0, len(wfs))
	for _, wf := range wfs {
		if err := putWorkflow(ctx, tx, wf); err != nil {
			return result, fmt.Errorf("upsert workflow %q: %w", wf.ID, err)
		}
		keep = append(keep, wf.ID)
		result.Upserted++
	}

	query := `DELETE FROM workflows`
	if len(keep) > 0 {
		query += ` WHERE id NOT IN (?` + strings.Repeat(", ?", len(keep)-1) + `)`
	}
	res, err := tx.ExecContext(ctx, query, keep...)
	if err != nil {
		return result, fmt.Errorf("prune workflows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return result, err
	}
	result.Removed = int(n)

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit sync: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*StoredWorkflow, error) {
	wf := &StoredWorkflow{}
	var prompt sql.NullString
	var doc string
	var version int64
	var savedAt sql.NullTime
	if err := row.Scan(&wf.ID, &wf.Name, &prompt, &doc, &wf.Active, &wf.Public, &version, &savedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Prompt = prompt.String
	wf.Version = uint64(version)
	if savedAt.Valid {
		t := savedAt.Time
		wf.SavedAt = &t
	}
	wf.Document = &schema.Workflow{}
	if err := json.Unmarshal([]byte(doc), wf.Document); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %q: %w", wf.ID, err)
	}
	return wf, nil
}

// --- Traces ---

// AppendTrace stores a log message with a per-workflow sequence number.
func (s *LibSQLStore) AppendTrace(ctx context.Context, msg schema.LogMessage) (*Trace, error) {
	wid := msg.WorkflowID.String()
	if wid == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "trace requires a workflow id")
	}
	data, err := json.Marshal(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal trace data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin trace tx: %w", err)
	}
	defer tx.Rollback()

	tr := &Trace{ID: uuid.New().String(), Message: msg, ReceivedAt: time.Now().UTC()}
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM traces WHERE workflow_id = ?`, wid,
	).Scan(&tr.Sequence); err != nil {
		return nil, fmt.Errorf("get next trace sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO traces (id, workflow_id, node_id, agent_name, status, sent_at, data, received_at, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, wid, msg.Node.String(), nullStr(msg.AgentName), msg.Status, nullStr(msg.Timestamp),
		string(data), tr.ReceivedAt, tr.Sequence,
	); err != nil {
		return nil, fmt.Errorf("insert trace: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit trace: %w", err)
	}
	return tr, nil
}

// ListTraces returns traces ordered by workflow and sequence.
func (s *LibSQLStore) ListTraces(ctx context.Context, filter TraceFilter) ([]*Trace, error) {
	query := `SELECT id, workflow_id, node_id, agent_name, status, sent_at, data, received_at, sequence FROM traces`
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Since > 0 {
		where = append(where, "sequence > ?")
		args = append(args, filter.Since)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY workflow_id, sequence ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traces []*Trace
	for rows.Next() {
		tr := &Trace{}
		var wid, nid string
		var agent, sentAt, data sql.NullString
		if err := rows.Scan(&tr.ID, &wid, &nid, &agent, &tr.Message.Status, &sentAt, &data, &tr.ReceivedAt, &tr.Sequence); err != nil {
			return nil, err
		}
		tr.Message.WorkflowID = parseID(wid)
		tr.Message.Node = parseID(nid)
		tr.Message.AgentName = agent.String
		tr.Message.Timestamp = sentAt.String
		if data.Valid && data.String != "" && data.String != "null" {
			if err := json.Unmarshal([]byte(data.String), &tr.Message.Data); err != nil {
				return nil, fmt.Errorf("unmarshal trace data: %w", err)
			}
		}
		traces = append(traces, tr)
	}
	return traces, rows.Err()
}

// --- Helpers ---

// parseID restores the numeric form of ids that were stored as text.
func parseID(s string) schema.ID {
	var id schema.ID
	if err := json.Unmarshal([]byte(s), &id); err == nil && id.Numeric() {
		return id
	}
	return schema.StringID(s)
}

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
