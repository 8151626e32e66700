package repo

import (
	"context"
	"errors"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"mordhub/internal/core/apperr"
	"mordhub/internal/core/database"
	"mordhub/internal/domain"
)

// ConnPool is the part of the connection pool the store needs.
type ConnPool interface {
	Acquire(ctx context.Context) (*database.Handle[*database.Connection], error)
}

// Store runs the typed queries. Every public method borrows exactly one
// connection for its whole duration.
type Store struct {
	pool ConnPool
	log  *zap.Logger
}

func NewStore(pool ConnPool, l *zap.Logger) *Store {
	if l == nil {
		l = zap.NewNop()
	}
	return &Store{pool: pool, log: l.Named("store")}
}

// WithConn runs fn on a single pooled connection.
func (s *Store) WithConn(ctx context.Context, fn func(c *database.Connection) error) error {
	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer h.Release()
	return fn(h.Conn())
}

// Images yields the images of a loadout in position order. The connection is
// held until iteration stops.
func (s *Store) Images(ctx context.Context, loadoutID int32) iter.Seq2[domain.Image, error] {
	return func(yield func(domain.Image, error) bool) {
		h, err := s.pool.Acquire(ctx)
		if err != nil {
			yield(domain.Image{}, mapErr(err))
			return
		}
		defer h.Release()
		for img, err := range imagesOn(ctx, h.Conn(), loadoutID) {
			if !yield(img, err) {
				return
			}
		}
	}
}

func (s *Store) ImageList(ctx context.Context, loadoutID int32) ([]domain.Image, error) {
	var out []domain.Image
	err := s.WithConn(ctx, func(c *database.Connection) error {
		var err error
		out, err = collectImages(ctx, c, loadoutID)
		return err
	})
	return out, err
}

func (s *Store) LoadoutSingle(ctx context.Context, loadoutID int32, viewer *domain.User) (*domain.LoadoutSingle, error) {
	var out *domain.LoadoutSingle
	err := s.WithConn(ctx, func(c *database.Connection) error {
		var err error
		out, err = loadoutSingleOn(ctx, c, loadoutID, viewer)
		return err
	})
	return out, err
}

// LoadoutPage loads a loadout and its images over one connection.
func (s *Store) LoadoutPage(ctx context.Context, loadoutID int32, viewer *domain.User) (*domain.LoadoutPage, error) {
	var page domain.LoadoutPage
	err := s.WithConn(ctx, func(c *database.Connection) error {
		ld, err := loadoutSingleOn(ctx, c, loadoutID, viewer)
		if err != nil {
			return err
		}
		page.Loadout = *ld
		page.Images, err = collectImages(ctx, c, loadoutID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *Store) LoadoutList(ctx context.Context, viewer *domain.User) ([]domain.LoadoutMultiple, error) {
	var out []domain.LoadoutMultiple
	err := s.WithConn(ctx, func(c *database.Connection) error {
		var (
			rows pgx.Rows
			err  error
		)
		if viewer != nil {
			rows, err = c.Query(ctx, c.Queries.LoadoutMultipleWithUser, viewer.ID)
		} else {
			rows, err = c.Query(ctx, c.Queries.LoadoutMultipleWithoutUser)
		}
		if err != nil {
			return mapErr(err)
		}
		out, err = collectMultiple(rows, viewer != nil)
		return err
	})
	return out, err
}

// LoadoutsByOwner lists the loadouts of one user, newest first, with
// has_liked computed for viewer.
func (s *Store) LoadoutsByOwner(ctx context.Context, ownerID int32, viewer *domain.User) ([]domain.LoadoutMultiple, error) {
	var viewerID int32
	if viewer != nil {
		viewerID = viewer.ID
	}
	var out []domain.LoadoutMultiple
	err := s.WithConn(ctx, func(c *database.Connection) error {
		rows, err := c.Query(ctx, c.Queries.LoadoutMultipleByOwner, viewerID, ownerID)
		if err != nil {
			return mapErr(err)
		}
		out, err = collectMultiple(rows, true)
		return err
	})
	return out, err
}

func collectMultiple(rows pgx.Rows, withLiked bool) ([]domain.LoadoutMultiple, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LoadoutMultiple, error) {
		var (
			l       domain.LoadoutMultiple
			steamID int64
		)
		dest := []any{&l.ID, &l.UserID, &l.Name, &l.Data, &l.CreatedAt, &l.LikeCount, &steamID, &l.CoverURL}
		if withLiked {
			dest = append(dest, &l.HasLiked)
		}
		err := row.Scan(dest...)
		l.UserSteamID = domain.SteamIDFromDB(steamID)
		return l, err
	})
	return out, mapErr(err)
}

// UserBySteamID returns the user registered under id. An unknown id is
// reported as Unauthorized.
func (s *Store) UserBySteamID(ctx context.Context, id domain.SteamID) (*domain.User, error) {
	var out *domain.User
	err := s.WithConn(ctx, func(c *database.Connection) error {
		rows, err := c.Query(ctx, c.Queries.GetUserByID, id.DB())
		if err != nil {
			return mapErr(err)
		}
		u, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (domain.User, error) {
			var (
				u       domain.User
				steamID int64
			)
			err := row.Scan(&u.ID, &steamID)
			u.SteamID = domain.SteamIDFromDB(steamID)
			return u, err
		})
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Wrap(apperr.KindUnauthorized, "unknown steam id "+id.String(), err)
		}
		if err != nil {
			return mapErr(err)
		}
		out = &u
		return nil
	})
	return out, err
}

// InsertUser registers id. Inserting an existing id is not an error.
func (s *Store) InsertUser(ctx context.Context, id domain.SteamID) error {
	return s.WithConn(ctx, func(c *database.Connection) error {
		_, err := c.Exec(ctx, c.Queries.PostLoginInsertUser, id.DB())
		return mapErr(err)
	})
}

func (s *Store) CreateLoadout(ctx context.Context, userID int32, name, data string) (int32, error) {
	var id int32
	err := s.WithConn(ctx, func(c *database.Connection) error {
		var err error
		id, err = createLoadoutOn(ctx, c, userID, name, data)
		return err
	})
	return id, err
}

func (s *Store) CreateImage(ctx context.Context, url string, loadoutID, position int32) error {
	return s.WithConn(ctx, func(c *database.Connection) error {
		return createImageOn(ctx, c, url, loadoutID, position)
	})
}

// PublishLoadout creates a loadout together with its cover image in one
// transaction and returns the new loadout id.
func (s *Store) PublishLoadout(ctx context.Context, userID int32, name, data, coverURL string) (int32, error) {
	var id int32
	err := s.WithConn(ctx, func(c *database.Connection) error {
		return c.Tx(ctx, func() error {
			var err error
			if id, err = createLoadoutOn(ctx, c, userID, name, data); err != nil {
				return err
			}
			return createImageOn(ctx, c, coverURL, id, domain.CoverPosition)
		})
	})
	if err != nil {
		return 0, mapErr(err)
	}
	s.log.Info("loadout published", zap.Int32("loadout_id", id), zap.Int32("user_id", userID))
	return id, nil
}

// LikeLoadout records a like. Liking twice is not an error.
func (s *Store) LikeLoadout(ctx context.Context, userID, loadoutID int32) error {
	return s.WithConn(ctx, func(c *database.Connection) error {
		_, err := c.Exec(ctx, c.Queries.LikeLoadout, userID, loadoutID)
		return mapErr(err)
	})
}

func (s *Store) UnlikeLoadout(ctx context.Context, userID, loadoutID int32) error {
	return s.WithConn(ctx, func(c *database.Connection) error {
		_, err := c.Exec(ctx, c.Queries.UnlikeLoadout, userID, loadoutID)
		return mapErr(err)
	})
}

func imagesOn(ctx context.Context, c *database.Connection, loadoutID int32) iter.Seq2[domain.Image, error] {
	return func(yield func(domain.Image, error) bool) {
		rows, err := c.Query(ctx, c.Queries.GetImageByID, loadoutID)
		if err != nil {
			yield(domain.Image{}, mapErr(err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var img domain.Image
			if err := rows.Scan(&img.ID, &img.URL, &img.LoadoutID, &img.Position, &img.CreatedAt); err != nil {
				yield(domain.Image{}, mapErr(err))
				return
			}
			if !yield(img, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Image{}, mapErr(err))
		}
	}
}

func collectImages(ctx context.Context, c *database.Connection, loadoutID int32) ([]domain.Image, error) {
	out := []domain.Image{}
	for img, err := range imagesOn(ctx, c, loadoutID) {
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}

func loadoutSingleOn(ctx context.Context, c *database.Connection, loadoutID int32, viewer *domain.User) (*domain.LoadoutSingle, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if viewer != nil {
		rows, err = c.Query(ctx, c.Queries.LoadoutSingleWithUser, viewer.ID, loadoutID)
	} else {
		rows, err = c.Query(ctx, c.Queries.LoadoutSingleWithoutUser, loadoutID)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	ld, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (domain.LoadoutSingle, error) {
		var l domain.LoadoutSingle
		dest := []any{&l.ID, &l.UserID, &l.Name, &l.Data, &l.CreatedAt, &l.LikeCount}
		if viewer != nil {
			dest = append(dest, &l.HasLiked)
		}
		return l, row.Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Wrap(apperr.KindNotFound, "loadout not found", err)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &ld, nil
}

func createLoadoutOn(ctx context.Context, c *database.Connection, userID int32, name, data string) (int32, error) {
	rows, err := c.Query(ctx, c.Queries.CreateLoadout, userID, name, data)
	if err != nil {
		return 0, mapErr(err)
	}
	id, err := pgx.CollectOneRow(rows, pgx.RowTo[int32])
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.Wrap(apperr.KindDbNothingReturned, "create_loadout", err)
	}
	return id, mapErr(err)
}

func createImageOn(ctx context.Context, c *database.Connection, url string, loadoutID, position int32) error {
	_, err := c.Exec(ctx, c.Queries.CreateImage, url, loadoutID, position)
	return mapErr(err)
}

const foreignKeyViolation = "23503"

// mapErr converts driver and pool errors into application errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, database.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.KindDatabaseTimedOut, "", err)
	case errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.KindCanceledBlock, "", err)
	case errors.Is(err, pgx.ErrNoRows):
		return apperr.Wrap(apperr.KindNotFound, "", err)
	case errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation:
		return apperr.Wrap(apperr.KindNotFound, "referenced row does not exist", err)
	default:
		return apperr.Database(err)
	}
}
