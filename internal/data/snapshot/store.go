package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"hxindex/internal/core/errors"
	"hxindex/internal/engine/parser"
	"hxindex/internal/engine/template"
	"hxindex/internal/shared/observability"
	"hxindex/internal/shared/version"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
)

// Snapshot is the index content captured for one run.
type Snapshot struct {
	Root          string
	Timestamp     time.Time
	SourceFiles   int
	TemplateFiles int
	Definitions   []parser.Definition
	Usages        []template.Usage
}

// Run is the summary row stored for every saved snapshot.
type Run struct {
	ID             string    `json:"id" yaml:"id"`
	Root           string    `json:"root" yaml:"root"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	ToolVersion    string    `json:"tool_version" yaml:"tool_version"`
	SourceFiles    int       `json:"source_files" yaml:"source_files"`
	TemplateFiles  int       `json:"template_files" yaml:"template_files"`
	Definitions    int       `json:"definitions" yaml:"definitions"`
	Usages         int       `json:"usages" yaml:"usages"`
	UndefinedCount int       `json:"undefined" yaml:"undefined"`
	UnusedCount    int       `json:"unused" yaml:"unused"`
}

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, errors.New(errors.CodeValidationError, "snapshot path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, errors.AddContext(
			errors.New(errors.CodeValidationError, "snapshot path is a directory, expected file"),
			errors.CtxPath, cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.AddContext(
				errors.Wrap(err, errors.CodeInternal, "create snapshot directory"),
				errors.CtxPath, dir)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.AddContext(
			errors.Wrap(err, errors.CodeStorage, "open snapshot database"),
			errors.CtxPath, cleanPath)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.AddContext(
			errors.Wrap(err, errors.CodeStorage, "ping snapshot database"),
			errors.CtxPath, cleanPath)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, errors.AddContext(
			errors.Wrap(err, errors.CodeStorage, "initialize snapshot schema"),
			errors.CtxPath, cleanPath)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// SaveSnapshot writes snap as a new run in a single transaction and returns
// the stored summary.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) (Run, error) {
	ctx, span := observability.Tracer.Start(ctx, "snapshot.Save")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	run := summarize(snap)
	span.SetAttributes(
		attribute.String("snapshot.run_id", run.ID),
		attribute.Int("snapshot.definitions", run.Definitions),
		attribute.Int("snapshot.usages", run.Usages),
	)

	var baseRows int
	err := s.withRetry("save snapshot", func() error {
		var err error
		baseRows, err = s.writeRun(ctx, run, snap)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save snapshot")
		return Run{}, errors.AddContext(err, errors.CtxOperation, "save_snapshot")
	}

	observability.SnapshotRowsWritten.WithLabelValues("runs").Inc()
	observability.SnapshotRowsWritten.WithLabelValues("definitions").Add(float64(len(snap.Definitions)))
	observability.SnapshotRowsWritten.WithLabelValues("base_classes").Add(float64(baseRows))
	observability.SnapshotRowsWritten.WithLabelValues("usages").Add(float64(len(snap.Usages)))
	return run, nil
}

func (s *Store) writeRun(ctx context.Context, run Run, snap Snapshot) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO runs (
  id, root, ts_utc, tool_version, source_file_count, template_file_count,
  definition_count, usage_count, undefined_count, unused_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Root, run.Timestamp.Format(time.RFC3339Nano), run.ToolVersion,
		run.SourceFiles, run.TemplateFiles, run.Definitions, run.Usages,
		run.UndefinedCount, run.UnusedCount,
	); err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	defStmt, err := tx.PrepareContext(ctx, `
INSERT INTO definitions (
  run_id, name, class_name, file_path, line, end_line, col, docstring, get_template, post_template
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare definitions: %w", err)
	}
	defer defStmt.Close()

	baseStmt, err := tx.PrepareContext(ctx, `
INSERT INTO base_classes (definition_id, position, name, file_path, line) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare base_classes: %w", err)
	}
	defer baseStmt.Close()

	baseRows := 0
	for _, def := range snap.Definitions {
		res, err := defStmt.ExecContext(ctx, run.ID, def.Name, def.ClassName, def.FilePath,
			def.Line, def.EndLine, def.Column, def.Docstring, def.GetTemplate, def.PostTemplate)
		if err != nil {
			return 0, fmt.Errorf("insert definition %q: %w", def.Name, err)
		}
		defID, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("definition id %q: %w", def.Name, err)
		}
		for pos, name := range def.BaseClasses {
			info := parser.BaseClassInfo{Name: name}
			if pos < len(def.BaseClassInfo) && def.BaseClassInfo[pos].Name == name {
				info = def.BaseClassInfo[pos]
			}
			if _, err := baseStmt.ExecContext(ctx, defID, pos, info.Name, info.FilePath, info.Line); err != nil {
				return 0, fmt.Errorf("insert base class %q: %w", name, err)
			}
			baseRows++
		}
	}

	usageStmt, err := tx.PrepareContext(ctx, `
INSERT INTO usages (run_id, name, file_path, line, col, end_col, tag, match_text)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare usages: %w", err)
	}
	defer usageStmt.Close()

	for _, u := range snap.Usages {
		if _, err := usageStmt.ExecContext(ctx, run.ID, u.Name, u.FilePath, u.Line,
			u.Column, u.EndColumn, string(u.Tag), u.Match); err != nil {
			return 0, fmt.Errorf("insert usage %q: %w", u.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	return baseRows, nil
}

func summarize(snap Snapshot) Run {
	defined := make(map[string]bool, len(snap.Definitions))
	used := make(map[string]bool, len(snap.Usages))
	for _, def := range snap.Definitions {
		defined[def.Name] = true
	}
	undefined := 0
	for _, u := range snap.Usages {
		used[u.Name] = true
		if !defined[u.Name] {
			undefined++
		}
	}
	unused := 0
	for name := range defined {
		if !used[name] {
			unused++
		}
	}

	return Run{
		ID:             uuid.NewString(),
		Root:           snap.Root,
		Timestamp:      snap.Timestamp.UTC(),
		ToolVersion:    version.Version,
		SourceFiles:    snap.SourceFiles,
		TemplateFiles:  snap.TemplateFiles,
		Definitions:    len(snap.Definitions),
		Usages:         len(snap.Usages),
		UndefinedCount: undefined,
		UnusedCount:    unused,
	}
}

// Runs lists stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows *sql.Rows
	err := s.withRetry("load runs", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, `
SELECT
  id, root, ts_utc, tool_version, source_file_count, template_file_count,
  definition_count, usage_count, undefined_count, unused_count
FROM runs
ORDER BY ts_utc ASC, id ASC`)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var (
			tsRaw string
			run   Run
		)
		if err := rows.Scan(
			&run.ID,
			&run.Root,
			&tsRaw,
			&run.ToolVersion,
			&run.SourceFiles,
			&run.TemplateFiles,
			&run.Definitions,
			&run.Usages,
			&run.UndefinedCount,
			&run.UnusedCount,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, tsRaw)
		if err != nil {
			return nil, fmt.Errorf("parse run timestamp %q: %w", tsRaw, err)
		}
		run.Timestamp = ts.UTC()
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// LoadDefinitions returns the definitions of a run sorted by name, with
// their base classes in declaration order.
func (s *Store) LoadDefinitions(ctx context.Context, runID string) ([]parser.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRunLocked(ctx, runID); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	err := s.withRetry("load definitions", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, `
SELECT id, name, class_name, file_path, line, end_line, col, docstring, get_template, post_template
FROM definitions
WHERE run_id = ?
ORDER BY name ASC, id ASC`, runID)
		return qErr
	})
	if err != nil {
		return nil, err
	}

	defs := make([]parser.Definition, 0)
	byID := make(map[int64]int)
	for rows.Next() {
		var (
			id  int64
			def parser.Definition
		)
		if err := rows.Scan(&id, &def.Name, &def.ClassName, &def.FilePath, &def.Line,
			&def.EndLine, &def.Column, &def.Docstring, &def.GetTemplate, &def.PostTemplate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan definition row: %w", err)
		}
		byID[id] = len(defs)
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate definition rows: %w", err)
	}
	rows.Close()

	err = s.withRetry("load base classes", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, `
SELECT b.definition_id, b.name, b.file_path, b.line
FROM base_classes b
JOIN definitions d ON d.id = b.definition_id
WHERE d.run_id = ?
ORDER BY b.definition_id ASC, b.position ASC`, runID)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			defID int64
			info  parser.BaseClassInfo
		)
		if err := rows.Scan(&defID, &info.Name, &info.FilePath, &info.Line); err != nil {
			return nil, fmt.Errorf("scan base class row: %w", err)
		}
		i, ok := byID[defID]
		if !ok {
			continue
		}
		defs[i].BaseClasses = append(defs[i].BaseClasses, info.Name)
		defs[i].BaseClassInfo = append(defs[i].BaseClassInfo, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate base class rows: %w", err)
	}
	return defs, nil
}

// LoadUsages returns the usages of a run sorted by file, line and column.
func (s *Store) LoadUsages(ctx context.Context, runID string) ([]template.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRunLocked(ctx, runID); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	err := s.withRetry("load usages", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, `
SELECT name, file_path, line, col, end_col, tag, match_text
FROM usages
WHERE run_id = ?
ORDER BY file_path ASC, line ASC, col ASC, id ASC`, runID)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usages := make([]template.Usage, 0)
	for rows.Next() {
		var (
			u   template.Usage
			tag string
		)
		if err := rows.Scan(&u.Name, &u.FilePath, &u.Line, &u.Column, &u.EndColumn, &tag, &u.Match); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		u.Tag = template.TagKind(tag)
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", err)
	}
	return usages, nil
}

func (s *Store) requireRunLocked(ctx context.Context, runID string) error {
	var n int
	err := s.withRetry("lookup run", func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&n)
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.AddContext(errors.New(errors.CodeNotFound, "snapshot run not found"), errors.CtxRunID, runID)
	}
	return nil
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return errors.Wrap(lastErr, errors.CodeStorage, op)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
