package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/catalog"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/seat"
)

// Catalog はメモリ上の上映カタログ
type Catalog struct {
	mu    sync.RWMutex
	shows map[string]*catalog.Show
	seats map[string][]seat.Seat
}

var _ catalog.Service = (*Catalog)(nil)

func NewCatalog() *Catalog {
	return &Catalog{
		shows: make(map[string]*catalog.Show),
		seats: make(map[string][]seat.Seat),
	}
}

// AddShow は上映回と座席表を登録する。既存の同一IDは置き換える。
func (c *Catalog) AddShow(show catalog.Show, seats []seat.Seat) error {
	if err := show.Validate(); err != nil {
		return err
	}
	sorted := make([]seat.Seat, 0, len(seats))
	for _, s := range seats {
		s.ShowID = show.ID
		if err := s.Validate(); err != nil {
			return fmt.Errorf("座席 %q: %w", s.ID, err)
		}
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	c.mu.Lock()
	defer c.mu.Unlock()
	s := show
	c.shows[show.ID] = &s
	c.seats[show.ID] = sorted
	return nil
}

func (c *Catalog) GetShow(_ context.Context, showID string) (*catalog.Show, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.shows[showID]
	if !ok {
		return nil, catalog.ErrShowNotFound
	}
	copied := *s
	return &copied, nil
}

func (c *Catalog) ListSeats(_ context.Context, showID string) ([]seat.Seat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seats, ok := c.seats[showID]
	if !ok {
		return nil, catalog.ErrShowNotFound
	}
	out := make([]seat.Seat, len(seats))
	copy(out, seats)
	return out, nil
}

// 座席種別ごとの固定価格（最小通貨単位）
var demoPrices = map[seat.Type]int64{
	seat.TypeRegular: 12000,
	seat.TypePremium: 20000,
	seat.TypeVIP:     35000,
}

// DemoShow はデモ用の上映回と座席表
type DemoShow struct {
	Show  catalog.Show
	Seats []seat.Seat
}

// DemoShows はデモ用の上映回を返す。
// 各上映回は A〜E 列 × 10 席で、A・B 列が regular、C・D 列が premium、E 列が vip。
func DemoShows(now time.Time) []DemoShow {
	shows := []catalog.Show{
		{ID: "show-1001", Title: "Interstellar", Screen: "Screen 1", StartsAt: now.Add(6 * time.Hour)},
		{ID: "show-1002", Title: "Inception", Screen: "Screen 2", StartsAt: now.Add(26 * time.Hour)},
	}
	rows := []struct {
		row string
		typ seat.Type
	}{
		{"A", seat.TypeRegular}, {"B", seat.TypeRegular},
		{"C", seat.TypePremium}, {"D", seat.TypePremium},
		{"E", seat.TypeVIP},
	}
	demos := make([]DemoShow, 0, len(shows))
	for _, show := range shows {
		var seats []seat.Seat
		for _, r := range rows {
			for n := 1; n <= 10; n++ {
				id := fmt.Sprintf("%s%02d", r.row, n)
				seats = append(seats, seat.Seat{ShowID: show.ID, ID: id, Label: fmt.Sprintf("%s-%d", r.row, n), Type: r.typ, Price: demoPrices[r.typ]})
			}
		}
		show.Capacity = len(seats)
		demos = append(demos, DemoShow{Show: show, Seats: seats})
	}
	return demos
}

// SeedDemo はデモ用の上映回を登録する
func SeedDemo(c *Catalog, now time.Time) error {
	for _, d := range DemoShows(now) {
		if err := c.AddShow(d.Show, d.Seats); err != nil {
			return err
		}
	}
	return nil
}
