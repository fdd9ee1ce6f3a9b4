package clip

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Compile-time check that Catalog implements Resolver.
var _ Resolver = (*Catalog)(nil)

// Catalog is a SQLite-backed clip catalog. It stands in for the hosted data
// backend that owns players' playlists.
type Catalog struct {
	conn   *sql.DB
	logger *slog.Logger
}

// OpenCatalog opens (and migrates) the catalog database at path. Use
// ":memory:" for a throwaway catalog.
func OpenCatalog(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	c := &Catalog{conn: conn, logger: logger}
	if err := c.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return c, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.conn.Close()
}

func (c *Catalog) migrate() error {
	if _, err := c.conn.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, m := range migrations {
		if m.IsDir() {
			continue
		}
		name := m.Name()

		var applied int
		err := c.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", name, err)
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := c.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		if _, err := c.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		c.logger.Info("applied catalog migration", slog.String("name", name))
	}
	return nil
}

// CreatePlaylist registers a playlist for a player. Creating an existing
// playlist is a no-op.
func (c *Catalog) CreatePlaylist(ctx context.Context, ref PlaylistRef, title string) error {
	_, err := c.conn.ExecContext(ctx,
		`INSERT INTO playlists (player_id, playlist_id, title) VALUES (?, ?, ?)
		 ON CONFLICT (player_id, playlist_id) DO NOTHING`,
		ref.PlayerID, ref.PlaylistID, title)
	if err != nil {
		return fmt.Errorf("create playlist %s: %w", ref, err)
	}
	return nil
}

// AddClip appends or replaces the clip at d.Order in the playlist.
func (c *Catalog) AddClip(ctx context.Context, ref PlaylistRef, d Descriptor) error {
	res, err := c.conn.ExecContext(ctx,
		`INSERT INTO playlist_clips (player_id, playlist_id, position, name, source_location)
		 SELECT player_id, playlist_id, ?, ?, ? FROM playlists WHERE player_id = ? AND playlist_id = ?
		 ON CONFLICT (player_id, playlist_id, position) DO UPDATE
		 SET name = excluded.name, source_location = excluded.source_location`,
		d.Order, d.Name, d.SourceLocation, ref.PlayerID, ref.PlaylistID)
	if err != nil {
		return fmt.Errorf("add clip to %s: %w", ref, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrPlaylistNotFound, ref)
	}
	return nil
}

// Resolve implements Resolver.
func (c *Catalog) Resolve(ctx context.Context, ref PlaylistRef) ([]Descriptor, error) {
	var exists int
	err := c.conn.QueryRowContext(ctx,
		`SELECT 1 FROM playlists WHERE player_id = ? AND playlist_id = ?`,
		ref.PlayerID, ref.PlaylistID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup playlist %s: %w", ref, err)
	}

	rows, err := c.conn.QueryContext(ctx,
		`SELECT name, source_location, position FROM playlist_clips
		 WHERE player_id = ? AND playlist_id = ? ORDER BY position`,
		ref.PlayerID, ref.PlaylistID)
	if err != nil {
		return nil, fmt.Errorf("query clips for %s: %w", ref, err)
	}
	defer func() { _ = rows.Close() }()

	var descs []Descriptor
	for rows.Next() {
		var d Descriptor
		if err := rows.Scan(&d.Name, &d.SourceLocation, &d.Order); err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		descs = append(descs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clips: %w", err)
	}
	return descs, nil
}

// SavePlaylist creates the playlist or replaces its title and clips. Clips
// are stored at their slice position; Descriptor.Order is ignored.
func (c *Catalog) SavePlaylist(ctx context.Context, ref PlaylistRef, title string, descs []Descriptor) (err error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", ref, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO playlists (player_id, playlist_id, title) VALUES (?, ?, ?)
		 ON CONFLICT (player_id, playlist_id) DO UPDATE SET title = excluded.title`,
		ref.PlayerID, ref.PlaylistID, title); err != nil {
		return fmt.Errorf("save playlist %s: %w", ref, err)
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM playlist_clips WHERE player_id = ? AND playlist_id = ?`,
		ref.PlayerID, ref.PlaylistID); err != nil {
		return fmt.Errorf("clear clips of %s: %w", ref, err)
	}
	for i, d := range descs {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO playlist_clips (player_id, playlist_id, position, name, source_location)
			 VALUES (?, ?, ?, ?, ?)`,
			ref.PlayerID, ref.PlaylistID, i, d.Name, d.SourceLocation); err != nil {
			return fmt.Errorf("insert clip %d of %s: %w", i, ref, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", ref, err)
	}

	c.logger.Debug("playlist saved",
		slog.String("playlist", ref.String()),
		slog.Int("clips", len(descs)),
	)
	return nil
}
