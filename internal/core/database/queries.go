package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Queries holds the prepared statements of one connection. It is built once
// by PrepareQueries and never modified afterwards.
type Queries struct {
	GetImageByID               *pgconn.StatementDescription
	LoadoutSingleWithUser      *pgconn.StatementDescription
	LoadoutSingleWithoutUser   *pgconn.StatementDescription
	LoadoutMultipleWithUser    *pgconn.StatementDescription
	LoadoutMultipleWithoutUser *pgconn.StatementDescription
	LoadoutMultipleByOwner     *pgconn.StatementDescription
	GetUserByID                *pgconn.StatementDescription
	PostLoginInsertUser        *pgconn.StatementDescription
	CreateLoadout              *pgconn.StatementDescription
	CreateImage                *pgconn.StatementDescription
	LikeLoadout                *pgconn.StatementDescription
	UnlikeLoadout              *pgconn.StatementDescription
}

type statement struct {
	name   string
	sql    string
	params []uint32
	slot   func(q *Queries) **pgconn.StatementDescription
}

const likeCountColumn = `(SELECT COUNT(*) FROM likes WHERE likes.loadout_id = loadouts.id) AS like_count`

const hasLikedColumn = `EXISTS (SELECT 1 FROM likes WHERE likes.user_id = $1 AND likes.loadout_id = loadouts.id) AS has_liked`

const multipleColumns = `loadouts.id, loadouts.user_id, loadouts.name, loadouts.data, loadouts.created_at, ` +
	likeCountColumn + `, users.steam_id AS user_steam_id, ` +
	`COALESCE((SELECT url FROM images WHERE images.loadout_id = loadouts.id AND images.position = 0), '') AS main_image_url`

var catalogue = []statement{
	{
		name:   "get_image_by_id",
		sql:    `SELECT id, url, loadout_id, position, created_at FROM images WHERE loadout_id = $1 ORDER BY position ASC`,
		params: []uint32{pgtype.Int4OID},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.GetImageByID },
	},
	{
		name: "loadout_single_with_user",
		sql: `SELECT id, user_id, name, data, created_at, ` + likeCountColumn + `, ` + hasLikedColumn +
			` FROM loadouts WHERE loadouts.id = $2`,
		params: []uint32{pgtype.Int4OID, pgtype.Int4OID},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.LoadoutSingleWithUser },
	},
	{
		name:   "loadout_single_without_user",
		sql:    `SELECT id, user_id, name, data, created_at, ` + likeCountColumn + ` FROM loadouts WHERE loadouts.id = $1`,
		params: []uint32{pgtype.Int4OID},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.LoadoutSingleWithoutUser },
	},
	{
		name: "loadout_multiple_with_user",
		sql: `SELECT ` + multipleColumns + `, ` + hasLikedColumn +
			` FROM loadouts JOIN users ON users.id = loadouts.user_id ORDER BY loadouts.id DESC`,
		params: []uint32{pgtype.Int4OID},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.LoadoutMultipleWithUser },
	},
	{
		name: "loadout_multiple_without_user",
		sql: `SELECT ` + multipleColumns +
			` FROM loadouts JOIN users ON users.id = loadouts.user_id ORDER BY loadouts.id DESC`,
		params: []uint32{},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.LoadoutMultipleWithoutUser },
	},
	{
		// $1 is the viewer, 0 when anonymous
		name: "loadout_multiple_by_owner",
		sql: `SELECT ` + multipleColumns + `, ` + hasLikedColumn +
			` FROM loadouts JOIN users ON users.id = loadouts.user_id WHERE loadouts.user_id = $2 ORDER BY loadouts.id DESC`,
		params: []uint32{pgtype.Int4OID, pgtype.Int4OID},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.LoadoutMultipleByOwner },
	},
	{
		name:   "get_user_by_id",
		sql:    `SELECT id, steam_id FROM users WHERE steam_id = $1`,
		params: []uint32{pgtype.Int8OID},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.GetUserByID },
	},
	{
		name:   "post_login_insert_user",
		sql:    `INSERT INTO users (steam_id) VALUES ($1) ON CONFLICT (steam_id) DO NOTHING`,
		params: []uint32{pgtype.Int8OID},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.PostLoginInsertUser },
	},
	{
		name:   "create_loadout",
		sql:    `INSERT INTO loadouts (user_id, name, data) VALUES ($1, $2, $3) RETURNING id`,
		params: []uint32{pgtype.Int4OID, pgtype.TextOID, pgtype.TextOID},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.CreateLoadout },
	},
	{
		name:   "create_image",
		sql:    `INSERT INTO images (url, loadout_id, position) VALUES ($1, $2, $3)`,
		params: []uint32{pgtype.TextOID, pgtype.Int4OID, pgtype.Int4OID},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.CreateImage },
	},
	{
		name:   "like_loadout",
		sql:    `INSERT INTO likes (user_id, loadout_id) VALUES ($1, $2) ON CONFLICT (user_id, loadout_id) DO NOTHING`,
		params: []uint32{pgtype.Int4OID, pgtype.Int4OID},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.LikeLoadout },
	},
	{
		name:   "unlike_loadout",
		sql:    `DELETE FROM likes WHERE user_id = $1 AND loadout_id = $2`,
		params: []uint32{pgtype.Int4OID, pgtype.Int4OID},
		slot:   func(q *Queries) **pgconn.StatementDescription { return &q.UnlikeLoadout },
	},
}

// StatementNames lists every statement a connection prepares.
func StatementNames() []string {
	names := make([]string, len(catalogue))
	for i, st := range catalogue {
		names[i] = st.name
	}
	return names
}

// PrepareQueries submits every statement of the catalogue in a single
// pipeline and waits until all of them have been described by the server.
// The connection must be idle.
func PrepareQueries(ctx context.Context, conn *pgconn.PgConn) (*Queries, error) {
	pipeline := conn.StartPipeline(ctx)
	for _, st := range catalogue {
		pipeline.SendPrepare(st.name, st.sql, st.params)
	}
	if err := pipeline.Sync(); err != nil {
		_ = pipeline.Close()
		return nil, fmt.Errorf("prepare: sync: %w", err)
	}

	q := &Queries{}
	next := 0
results:
	for {
		res, err := pipeline.GetResults()
		if err != nil {
			_ = pipeline.Close()
			if next < len(catalogue) {
				return nil, fmt.Errorf("prepare %s: %w", catalogue[next].name, err)
			}
			return nil, fmt.Errorf("prepare: %w", err)
		}
		switch r := res.(type) {
		case *pgconn.StatementDescription:
			if next >= len(catalogue) {
				_ = pipeline.Close()
				return nil, fmt.Errorf("prepare: unexpected statement description")
			}
			st := catalogue[next]
			// pipeline descriptions carry only the wire shape
			r.Name, r.SQL = st.name, st.sql
			*st.slot(q) = r
			next++
		case *pgconn.PipelineSync, nil:
			break results
		}
	}
	if err := pipeline.Close(); err != nil {
		return nil, fmt.Errorf("prepare: close pipeline: %w", err)
	}
	if missing := q.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("prepare: statements not prepared: %s", strings.Join(missing, ", "))
	}
	return q, nil
}

// Missing returns the names of statements without a handle.
func (q *Queries) Missing() []string {
	var out []string
	for _, st := range catalogue {
		if *st.slot(q) == nil {
			out = append(out, st.name)
		}
	}
	return out
}
