package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/catalog"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/seat"
)

type showRow struct {
	ID       string    `db:"id"`
	Title    string    `db:"title"`
	Screen   string    `db:"screen"`
	StartsAt time.Time `db:"starts_at"`
	Capacity int       `db:"capacity"`
}

func (r *showRow) toEntity() *catalog.Show {
	return &catalog.Show{ID: r.ID, Title: r.Title, Screen: r.Screen, StartsAt: r.StartsAt, Capacity: r.Capacity}
}

type showSeatRow struct {
	ShowID string `db:"show_id"`
	SeatID string `db:"seat_id"`
	Label  string `db:"label"`
	Type   string `db:"seat_type"`
	Price  int64  `db:"price"`
}

func (r *showSeatRow) toEntity() seat.Seat {
	return seat.Seat{ShowID: r.ShowID, ID: r.SeatID, Label: r.Label, Type: seat.Type(r.Type), Price: r.Price}
}

// CatalogRepository は shows / show_seats テーブルから上映カタログを読む
type CatalogRepository struct{ db *sqlx.DB }

var _ catalog.Service = (*CatalogRepository)(nil)

func NewCatalogRepository(db *sqlx.DB) *CatalogRepository { return &CatalogRepository{db: db} }

func (r *CatalogRepository) GetShow(ctx context.Context, showID string) (*catalog.Show, error) {
	var row showRow
	query := `SELECT id, title, screen, starts_at, capacity FROM shows WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, showID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrShowNotFound
		}
		return nil, fmt.Errorf("上映回取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *CatalogRepository) ListSeats(ctx context.Context, showID string) ([]seat.Seat, error) {
	if _, err := r.GetShow(ctx, showID); err != nil {
		return nil, err
	}
	var rows []showSeatRow
	query := `SELECT show_id, seat_id, label, seat_type, price FROM show_seats WHERE show_id = $1 ORDER BY seat_id`
	if err := r.db.SelectContext(ctx, &rows, query, showID); err != nil {
		return nil, fmt.Errorf("座席取得に失敗: %w", err)
	}
	seats := make([]seat.Seat, len(rows))
	for i := range rows {
		seats[i] = rows[i].toEntity()
	}
	return seats, nil
}

// SaveShow は上映回と座席表を1トランザクションで登録する。既存の同一IDは置き換える
func (r *CatalogRepository) SaveShow(ctx context.Context, show catalog.Show, seats []seat.Seat) error {
	if err := show.Validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	showQuery := `INSERT INTO shows (id, title, screen, starts_at, capacity)
		VALUES (:id, :title, :screen, :starts_at, :capacity)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, screen = EXCLUDED.screen,
			starts_at = EXCLUDED.starts_at, capacity = EXCLUDED.capacity`
	if _, err := tx.NamedExecContext(ctx, showQuery, showRow{
		ID: show.ID, Title: show.Title, Screen: show.Screen, StartsAt: show.StartsAt, Capacity: show.Capacity,
	}); err != nil {
		return fmt.Errorf("上映回保存に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM show_seats WHERE show_id = $1`, show.ID); err != nil {
		return fmt.Errorf("座席削除に失敗: %w", err)
	}

	if len(seats) > 0 {
		rows := make([]showSeatRow, 0, len(seats))
		for _, s := range seats {
			s.ShowID = show.ID
			if err := s.Validate(); err != nil {
				return fmt.Errorf("座席 %q: %w", s.ID, err)
			}
			if s.Type == "" {
				s.Type = seat.TypeRegular
			}
			rows = append(rows, showSeatRow{ShowID: s.ShowID, SeatID: s.ID, Label: s.Label, Type: string(s.Type), Price: s.Price})
		}
		seatQuery := `INSERT INTO show_seats (show_id, seat_id, label, seat_type, price)
			VALUES (:show_id, :seat_id, :label, :seat_type, :price)`
		if _, err := tx.NamedExecContext(ctx, seatQuery, rows); err != nil {
			return fmt.Errorf("座席保存に失敗: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// CountShows は登録済みの上映回数を返す
func (r *CatalogRepository) CountShows(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM shows`); err != nil {
		return 0, fmt.Errorf("上映回数の取得に失敗: %w", err)
	}
	return n, nil
}
