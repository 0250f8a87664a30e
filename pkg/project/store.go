package project

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	dherr "github.com/deployhub/deployhub/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL UNIQUE,
	description       TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER,
	current_config_id TEXT
);
CREATE TABLE IF NOT EXISTS configs (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	tag         TEXT NOT NULL,
	yaml        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER,
	UNIQUE (project_id, tag)
);
`

// Store keeps projects and their deployment configs in SQLite.
type Store struct {
	db     *sql.DB
	logger log.Logger
	now    func() time.Time
}

// Open opens (creating if necessary) the database at path, which may
// be ":memory:".
func Open(path string, logger log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening database %s", path)
	}
	// one connection, so that ":memory:" is one database and writes
	// are serialised
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configuring database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row scanner) (Project, error) {
	var p Project
	var created int64
	var updated sql.NullInt64
	var current sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &created, &updated, &current); err != nil {
		return p, err
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	p.UpdatedAt = fromNull(updated)
	p.CurrentConfigID = current.String
	return p, nil
}

func scanConfig(row scanner, current string) (Config, error) {
	var c Config
	var created int64
	var updated sql.NullInt64
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Tag, &c.YAML, &c.Description, &created, &updated); err != nil {
		return c, err
	}
	c.CreatedAt = time.Unix(0, created).UTC()
	c.UpdatedAt = fromNull(updated)
	c.IsCurrent = current != "" && c.ID == current
	return c, nil
}

func fromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

const projectColumns = `id, name, description, created_at, updated_at, current_config_id`
const configColumns = `id, project_id, tag, yaml, description, created_at, updated_at`

func (s *Store) List(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "listing projects")
	}
	defer rows.Close()
	projects := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, errors.Wrap(err, "reading project")
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (Project, error) {
	return s.get(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) get(ctx context.Context, q querier, id string) (Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return p, projectMissing(id)
	}
	if err != nil {
		return p, errors.Wrapf(err, "loading project %s", id)
	}
	return p, nil
}

func (s *Store) nameTaken(ctx context.Context, q querier, name, exceptID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE name = ? AND id != ?`, name, exceptID).Scan(&n)
	return n > 0, err
}

func (s *Store) Create(ctx context.Context, name, description string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, dherr.UserError(errors.New("project name cannot be empty"))
	}
	var p Project
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		taken, err := s.nameTaken(ctx, tx, name, "")
		if err != nil {
			return errors.Wrap(err, "checking project name")
		}
		if taken {
			return dherr.UserError(fmt.Errorf("project %q already exists", name))
		}
		p = Project{
			ID:          uuid.New().String(),
			Name:        name,
			Description: description,
			CreatedAt:   s.now().UTC(),
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO projects (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
			p.ID, p.Name, p.Description, p.CreatedAt.UnixNano())
		return errors.Wrap(err, "inserting project")
	})
	if err != nil {
		return Project{}, err
	}
	s.logger.Log("info", "created project", "project", p.Name, "id", p.ID)
	return p, nil
}

func (s *Store) Update(ctx context.Context, id, name, description string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, dherr.UserError(errors.New("project name cannot be empty"))
	}
	var p Project
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if p, err = s.get(ctx, tx, id); err != nil {
			return err
		}
		taken, err := s.nameTaken(ctx, tx, name, id)
		if err != nil {
			return errors.Wrap(err, "checking project name")
		}
		if taken {
			return dherr.UserError(fmt.Errorf("project name %q already in use", name))
		}
		now := s.now().UTC()
		p.Name, p.Description, p.UpdatedAt = name, description, &now
		_, err = tx.ExecContext(ctx, `UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
			name, description, now.UnixNano(), id)
		return errors.Wrap(err, "updating project")
	})
	return p, err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.get(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM configs WHERE project_id = ?`, id); err != nil {
			return errors.Wrap(err, "deleting configs")
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		return errors.Wrap(err, "deleting project")
	})
	if err == nil {
		s.logger.Log("info", "deleted project", "id", id)
	}
	return err
}

// AddConfig stores a new tagged config. It does not become current
// until rolled back to.
func (s *Store) AddConfig(ctx context.Context, projectID, tag, content, description string) (Config, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Config{}, dherr.UserError(errors.New("tag cannot be empty"))
	}
	if err := ValidateYAML(content); err != nil {
		return Config{}, err
	}
	var c Config
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		p, err := s.get(ctx, tx, projectID)
		if err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM configs WHERE project_id = ? AND tag = ?`, projectID, tag).Scan(&n); err != nil {
			return errors.Wrap(err, "checking tag")
		}
		if n > 0 {
			return dherr.UserError(fmt.Errorf("tag %q already exists in project %q", tag, p.Name))
		}
		now := s.now().UTC()
		c = Config{
			ID:          uuid.New().String(),
			ProjectID:   projectID,
			Tag:         tag,
			YAML:        content,
			Description: description,
			CreatedAt:   now,
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO configs (`+configColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL)`,
			c.ID, c.ProjectID, c.Tag, c.YAML, c.Description, now.UnixNano()); err != nil {
			return errors.Wrap(err, "inserting config")
		}
		return s.touch(ctx, tx, projectID, now)
	})
	if err != nil {
		return Config{}, err
	}
	s.logger.Log("info", "added deployment config", "project", projectID, "tag", tag)
	return c, nil
}

// UpdateCurrentConfig replaces the content of the current config in
// place.
func (s *Store) UpdateCurrentConfig(ctx context.Context, projectID, content, description string) (Config, error) {
	if err := ValidateYAML(content); err != nil {
		return Config{}, err
	}
	var c Config
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if c, err = s.current(ctx, tx, projectID); err != nil {
			return err
		}
		now := s.now().UTC()
		c.YAML, c.Description, c.UpdatedAt = content, description, &now
		if _, err := tx.ExecContext(ctx, `UPDATE configs SET yaml = ?, description = ?, updated_at = ? WHERE id = ?`,
			content, description, now.UnixNano(), c.ID); err != nil {
			return errors.Wrap(err, "updating config")
		}
		return s.touch(ctx, tx, projectID, now)
	})
	return c, err
}

// History gives all configs of a project, the current one first and
// the rest newest first.
func (s *Store) History(ctx context.Context, projectID string) ([]Config, error) {
	p, err := s.get(ctx, s.db, projectID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+configColumns+` FROM configs WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "listing configs")
	}
	defer rows.Close()
	configs := []Config{}
	for rows.Next() {
		c, err := scanConfig(rows, p.CurrentConfigID)
		if err != nil {
			return nil, errors.Wrap(err, "reading config")
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(configs, func(i, j int) bool {
		if configs[i].IsCurrent != configs[j].IsCurrent {
			return configs[i].IsCurrent
		}
		return configs[i].CreatedAt.After(configs[j].CreatedAt)
	})
	return configs, nil
}

func (s *Store) ConfigByTag(ctx context.Context, projectID, tag string) (Config, error) {
	return s.byTag(ctx, s.db, projectID, tag)
}

func (s *Store) byTag(ctx context.Context, q querier, projectID, tag string) (Config, error) {
	p, err := s.get(ctx, q, projectID)
	if err != nil {
		return Config{}, err
	}
	c, err := scanConfig(q.QueryRowContext(ctx, `SELECT `+configColumns+` FROM configs WHERE project_id = ? AND tag = ?`, projectID, tag), p.CurrentConfigID)
	if err == sql.ErrNoRows {
		return c, configMissing(projectID, tag)
	}
	return c, errors.Wrap(err, "loading config")
}

func (s *Store) CurrentConfig(ctx context.Context, projectID string) (Config, error) {
	return s.current(ctx, s.db, projectID)
}

func (s *Store) current(ctx context.Context, q querier, projectID string) (Config, error) {
	p, err := s.get(ctx, q, projectID)
	if err != nil {
		return Config{}, err
	}
	if p.CurrentConfigID == "" {
		return Config{}, noCurrentConfig(projectID)
	}
	c, err := scanConfig(q.QueryRowContext(ctx, `SELECT `+configColumns+` FROM configs WHERE id = ?`, p.CurrentConfigID), p.CurrentConfigID)
	if err == sql.ErrNoRows {
		return c, noCurrentConfig(projectID)
	}
	return c, errors.Wrap(err, "loading current config")
}

// Rollback makes the config with the given tag the current one.
func (s *Store) Rollback(ctx context.Context, projectID, tag string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		c, err := s.byTag(ctx, tx, projectID, tag)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		_, err = tx.ExecContext(ctx, `UPDATE projects SET current_config_id = ?, updated_at = ? WHERE id = ?`, c.ID, now.UnixNano(), projectID)
		return errors.Wrap(err, "setting current config")
	})
	if err == nil {
		s.logger.Log("info", "rolled back", "project", projectID, "tag", tag)
	}
	return err
}

// DeleteConfig removes a tagged config. Removing the current config
// leaves the project without one.
func (s *Store) DeleteConfig(ctx context.Context, projectID, tag string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		c, err := s.byTag(ctx, tx, projectID, tag)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM configs WHERE id = ?`, c.ID); err != nil {
			return errors.Wrap(err, "deleting config")
		}
		now := s.now().UTC()
		if c.IsCurrent {
			_, err = tx.ExecContext(ctx, `UPDATE projects SET current_config_id = NULL, updated_at = ? WHERE id = ?`, now.UnixNano(), projectID)
			return errors.Wrap(err, "clearing current config")
		}
		return s.touch(ctx, tx, projectID, now)
	})
}

func (s *Store) touch(ctx context.Context, tx *sql.Tx, projectID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, now.UnixNano(), projectID)
	return errors.Wrap(err, "touching project")
}

func (s *Store) inTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
