package catalog

import "time"

// Show は上映回を表す。座席表と定員はカタログ側で管理される。
type Show struct {
	ID       string
	Title    string
	Screen   string
	StartsAt time.Time
	Capacity int
}

// IsBookingOpen は now 時点で予約を受け付けるかを返す（開演前のみ受付）
func (s *Show) IsBookingOpen(now time.Time) bool {
	return now.Before(s.StartsAt)
}

// Validate は上映回の検証を行う
func (s *Show) Validate() error {
	if s.ID == "" {
		return ErrShowIDRequired
	}
	if s.Title == "" {
		return ErrTitleRequired
	}
	if s.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	return nil
}
