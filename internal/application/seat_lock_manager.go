package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/seat"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/clock"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/metrics"
)

const (
	timerShards = 64

	invalidateTimeout = 2 * time.Second

	expirySourceTimer = "timer"
	expirySourceSweep = "sweep"
)

// HoldGrant は仮押さえ成功時の結果
type HoldGrant struct {
	BookingID string
	ShowID    string
	SeatIDs   []string
	Expiry    time.Time
}

// SeatLockManager は上映回ごとの座席状態テーブルを所有し、仮押さえの付与・確定・解放を行う。
// 全体を直列化するロックは持たず、座席単位の CAS のみで整合性を保つ。
type SeatLockManager struct {
	store   seat.StateStore
	clock   clock.Clock
	timers      *holdTimers
	metrics     *metrics.Metrics
	invalidator AvailabilityInvalidator
}

// SeatLockOption は SeatLockManager の設定
type SeatLockOption func(*SeatLockManager)

// WithLockMetrics はメトリクスの出力先を指定する
func WithLockMetrics(m *metrics.Metrics) SeatLockOption {
	return func(lm *SeatLockManager) {
		if m != nil {
			lm.metrics = m
		}
	}
}

// WithExpiryInvalidator は期限切れで座席を解放したときの通知先を指定する
func WithExpiryInvalidator(inv AvailabilityInvalidator) SeatLockOption {
	return func(lm *SeatLockManager) {
		lm.invalidator = inv
	}
}

func NewSeatLockManager(store seat.StateStore, clk clock.Clock, opts ...SeatLockOption) *SeatLockManager {
	lm := &SeatLockManager{
		store:  store,
		clock:  clk,
		timers: newHoldTimers(),
	}
	for _, opt := range opts {
		opt(lm)
	}
	if lm.metrics == nil {
		lm.metrics = metrics.NewNop()
	}
	return lm
}

type acquiredSeat struct {
	key    seat.Key
	prev   seat.State
	stored seat.State
}

// AcquireHold は座席群をまとめて仮押さえする。
// 座席はID順に1つずつ CAS で確保し、最初の競合で確保済みの座席をすべて元に戻す。
// 競合時は *seat.UnavailableError を返す。待機はしない。
func (m *SeatLockManager) AcquireHold(showID string, seatIDs []string, bookingID string, ttl time.Duration) (*HoldGrant, error) {
	start := time.Now()
	if showID == "" {
		return nil, seat.ErrShowIDRequired
	}
	if bookingID == "" {
		return nil, seat.ErrBookingIDRequired
	}
	if ttl <= 0 {
		return nil, seat.ErrInvalidTTL
	}
	ids, err := normalizeSeatIDs(seatIDs)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	expiry := now.Add(ttl)
	held := seat.State{Status: seat.StatusHeld, HolderBookingID: bookingID, HoldExpiry: expiry}

	acquired := make([]acquiredSeat, 0, len(ids))
	for i, id := range ids {
		key := seat.Key{ShowID: showID, SeatID: id}
		cur := m.store.Load(key)
		if cur.Grantable(now) {
			stored, ok := m.store.CompareAndSwap(key, cur.Version, held)
			if ok {
				acquired = append(acquired, acquiredSeat{key: key, prev: cur, stored: stored})
				continue
			}
		}

		m.rollback(acquired, bookingID)
		conflicts := append([]string{id}, m.ungrantable(showID, ids[i+1:], now)...)
		m.observe("acquire", "denied", start)
		logger.Debug("仮押さえ競合",
			zap.String("show_id", showID),
			zap.String("booking_id", bookingID),
			zap.Strings("conflicting_seats", conflicts),
		)
		return nil, &seat.UnavailableError{ShowID: showID, Seats: conflicts}
	}

	for _, a := range acquired {
		m.armTimer(a.key, bookingID, ttl)
	}
	m.observe("acquire", "granted", start)
	return &HoldGrant{BookingID: bookingID, ShowID: showID, SeatIDs: ids, Expiry: expiry}, nil
}

// rollback は確保済みの座席を逆順に取得前の状態へ戻す。
// 戻せなかった座席は異常としてログに残し、残りの巻き戻しを続ける。
func (m *SeatLockManager) rollback(acquired []acquiredSeat, bookingID string) {
	for i := len(acquired) - 1; i >= 0; i-- {
		a := acquired[i]
		restore := a.prev
		if _, ok := m.store.CompareAndSwap(a.key, a.stored.Version, restore); !ok {
			cur := m.store.Load(a.key)
			logger.Warn("仮押さえの巻き戻しで状態の不一致を検出",
				zap.String("seat", a.key.String()),
				zap.String("booking_id", bookingID),
				zap.String("current_status", string(cur.CurrentStatus())),
				zap.String("current_holder", cur.HolderBookingID),
			)
		}
	}
}

func (m *SeatLockManager) ungrantable(showID string, ids []string, now time.Time) []string {
	var out []string
	for _, id := range ids {
		if !m.store.Load(seat.Key{ShowID: showID, SeatID: id}).Grantable(now) {
			out = append(out, id)
		}
	}
	return out
}

// Commit は bookingID の仮押さえ座席を BOOKED にする。
// タイマーを先に止めるため、確定後に期限切れの解放が走ることはない。
// いずれかの座席がすでに bookingID の仮押さえでなければ何も確定せず ErrInvalidStateTransition を返す。
func (m *SeatLockManager) Commit(showID string, seatIDs []string, bookingID string) error {
	start := time.Now()
	if showID == "" {
		return seat.ErrShowIDRequired
	}
	if bookingID == "" {
		return seat.ErrBookingIDRequired
	}
	ids, err := normalizeSeatIDs(seatIDs)
	if err != nil {
		return err
	}

	keys := make([]seat.Key, len(ids))
	for i, id := range ids {
		keys[i] = seat.Key{ShowID: showID, SeatID: id}
		m.timers.disarm(keys[i], bookingID)
	}

	now := m.clock.Now()
	committed := make([]acquiredSeat, 0, len(keys))
	for _, key := range keys {
		prev, stored, err := m.update(key, func(cur seat.State) (seat.State, error) {
			if cur.Status == seat.StatusBooked && cur.HolderBookingID == bookingID {
				return cur, fmt.Errorf("%w: 座席 %s は確定済みです", seat.ErrInvalidStateTransition, key)
			}
			if !cur.IsHeldBy(bookingID) || cur.IsLapsed(now) {
				return cur, fmt.Errorf("%w: 座席 %s の仮押さえがありません: %w", seat.ErrInvalidStateTransition, key, seat.ErrHoldExpired)
			}
			return seat.State{Status: seat.StatusBooked, HolderBookingID: bookingID}, nil
		})
		if err != nil {
			m.undoCommit(committed, keys, bookingID, now)
			m.observe("commit", "failed", start)
			return err
		}
		committed = append(committed, acquiredSeat{key: key, prev: prev, stored: stored})
	}

	m.observe("commit", "ok", start)
	return nil
}

// undoCommit は途中まで確定した座席を仮押さえに戻し、残っている仮押さえのタイマーを張り直す
func (m *SeatLockManager) undoCommit(committed []acquiredSeat, keys []seat.Key, bookingID string, now time.Time) {
	for i := len(committed) - 1; i >= 0; i-- {
		c := committed[i]
		if _, ok := m.store.CompareAndSwap(c.key, c.stored.Version, c.prev); !ok {
			logger.Warn("確定の巻き戻しで状態の不一致を検出",
				zap.String("seat", c.key.String()),
				zap.String("booking_id", bookingID),
			)
		}
	}
	for _, key := range keys {
		cur := m.store.Load(key)
		if !cur.IsHeldBy(bookingID) {
			continue
		}
		if remaining := cur.HoldExpiry.Sub(now); remaining > 0 {
			m.armTimer(key, bookingID, remaining)
			continue
		}
		m.releaseHeld(key, bookingID, true, expirySourceSweep)
	}
}

// Release は bookingID が保持している座席（HELD または BOOKED）を AVAILABLE に戻し、解放した座席数を返す。
// 他の予約が保持している座席や既に空いている座席は何もしないため、何度呼んでも安全。
func (m *SeatLockManager) Release(showID string, seatIDs []string, bookingID string) (int, error) {
	start := time.Now()
	if showID == "" {
		return 0, seat.ErrShowIDRequired
	}
	if bookingID == "" {
		return 0, seat.ErrBookingIDRequired
	}
	ids, err := normalizeSeatIDs(seatIDs)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, id := range ids {
		key := seat.Key{ShowID: showID, SeatID: id}
		m.timers.disarm(key, bookingID)
		_, _, err := m.update(key, func(cur seat.State) (seat.State, error) {
			if cur.HolderBookingID != bookingID || cur.CurrentStatus() == seat.StatusAvailable {
				return cur, errNothingToRelease
			}
			return seat.State{Status: seat.StatusAvailable}, nil
		})
		if err == nil {
			released++
		}
	}
	m.observe("release", "ok", start)
	return released, nil
}

// releaseHeld は座席がまだ bookingID の仮押さえである場合に限り解放する。
// requireLapsed の場合は期限切れであることも条件にする。
func (m *SeatLockManager) releaseHeld(key seat.Key, bookingID string, requireLapsed bool, source string) bool {
	_, _, err := m.update(key, func(cur seat.State) (seat.State, error) {
		if !cur.IsHeldBy(bookingID) {
			return cur, errNothingToRelease
		}
		if requireLapsed && !cur.IsLapsed(m.clock.Now()) {
			return cur, errNothingToRelease
		}
		return seat.State{Status: seat.StatusAvailable}, nil
	})
	if err != nil {
		return false
	}
	m.metrics.HoldExpirationsTotal.WithLabelValues(source).Inc()
	logger.Info("仮押さえの期限切れにより座席を解放",
		zap.String("seat", key.String()),
		zap.String("booking_id", bookingID),
		zap.String("source", source),
	)
	if m.invalidator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
		m.invalidator.Invalidate(ctx, key.ShowID)
		cancel()
	}
	return true
}

// update は CAS が成功するか next がエラーを返すまで読み直して再試行する
func (m *SeatLockManager) update(key seat.Key, next func(cur seat.State) (seat.State, error)) (prev, stored seat.State, err error) {
	for {
		cur := m.store.Load(key)
		want, err := next(cur)
		if err != nil {
			return cur, cur, err
		}
		if stored, ok := m.store.CompareAndSwap(key, cur.Version, want); ok {
			return cur, stored, nil
		}
	}
}

// Snapshot は座席の現在状態を返す。期限切れの仮押さえは AVAILABLE とみなす
func (m *SeatLockManager) Snapshot(showID, seatID string) seat.Snapshot {
	key := seat.Key{ShowID: showID, SeatID: seatID}
	return seat.NewSnapshot(key, m.store.Load(key), m.clock.Now())
}

// IsAvailable は座席が空席かを返す
func (m *SeatLockManager) IsAvailable(showID, seatID string) bool {
	return m.Snapshot(showID, seatID).IsAvailable()
}

// ShowSnapshot は上映回の状態テーブルに存在する座席のスナップショットを座席IDをキーに返す
func (m *SeatLockManager) ShowSnapshot(showID string) map[string]seat.Snapshot {
	now := m.clock.Now()
	out := make(map[string]seat.Snapshot)
	m.store.RangeShow(showID, func(seatID string, st seat.State) bool {
		out[seatID] = seat.NewSnapshot(seat.Key{ShowID: showID, SeatID: seatID}, st, now)
		return true
	})
	return out
}

// SweepExpired は期限を過ぎても HELD のまま残っている座席を解放し、解放数を返す。
// タイマーが失われた場合の回収用で、読み取りは遅延期限切れで既に正しい。
func (m *SeatLockManager) SweepExpired() int {
	now := m.clock.Now()
	type lapsed struct {
		key       seat.Key
		bookingID string
	}
	var targets []lapsed
	m.store.Range(func(key seat.Key, st seat.State) bool {
		if st.IsLapsed(now) {
			targets = append(targets, lapsed{key: key, bookingID: st.HolderBookingID})
		}
		return true
	})

	released := 0
	for _, t := range targets {
		m.timers.disarm(t.key, t.bookingID)
		if m.releaseHeld(t.key, t.bookingID, true, expirySourceSweep) {
			released++
		}
	}
	return released
}

// Shutdown は保留中のタイマーをすべて止め、止めた数を返す。
// 座席は HELD のまま残るが、読み取りは遅延期限切れで AVAILABLE として扱う。
func (m *SeatLockManager) Shutdown() int {
	stopped := m.timers.stopAll()
	logger.Info("座席タイマーを停止しました", zap.Int("stopped", stopped))
	return stopped
}

// PendingTimers は保留中の座席タイマー数を返す
func (m *SeatLockManager) PendingTimers() int {
	return m.timers.len()
}

func (m *SeatLockManager) armTimer(key seat.Key, bookingID string, d time.Duration) {
	m.timers.arm(m.clock, key, bookingID, d, func() {
		m.releaseHeld(key, bookingID, false, expirySourceTimer)
	})
}

func (m *SeatLockManager) observe(operation, result string, start time.Time) {
	m.metrics.SeatLockDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
	if operation == "acquire" {
		m.metrics.SeatHoldsTotal.WithLabelValues(result).Inc()
	}
}

var errNothingToRelease = errors.New("解放対象の座席がありません")

// normalizeSeatIDs は座席IDを重複排除してソートする。
// ソート順は全ての仮押さえで共通の取得順序になる。
func normalizeSeatIDs(seatIDs []string) ([]string, error) {
	if len(seatIDs) == 0 {
		return nil, seat.ErrSeatIDsRequired
	}
	seen := make(map[string]struct{}, len(seatIDs))
	ids := make([]string, 0, len(seatIDs))
	for _, id := range seatIDs {
		if id == "" {
			return nil, seat.ErrSeatIDRequired
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// holdTimers は座席ごとの期限切れタイマーを保持する。
// 1座席につき1つで、取り消しは O(1)。
type holdTimers struct {
	shards [timerShards]timerShard
}

type timerShard struct {
	mu      sync.Mutex
	entries map[seat.Key]*holdTimer
}

type holdTimer struct {
	bookingID string
	timer     clock.Timer
}

func newHoldTimers() *holdTimers {
	h := &holdTimers{}
	for i := range h.shards {
		h.shards[i].entries = make(map[seat.Key]*holdTimer)
	}
	return h
}

func (h *holdTimers) shardFor(key seat.Key) *timerShard {
	return &h.shards[xxhash.Sum64String(key.String())%timerShards]
}

func (h *holdTimers) arm(clk clock.Clock, key seat.Key, bookingID string, d time.Duration, fn func()) {
	sh := h.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if old, ok := sh.entries[key]; ok {
		old.timer.Stop()
	}
	entry := &holdTimer{bookingID: bookingID}
	entry.timer = clk.AfterFunc(d, func() {
		h.forget(key, entry)
		fn()
	})
	sh.entries[key] = entry
}

func (h *holdTimers) forget(key seat.Key, entry *holdTimer) {
	sh := h.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.entries[key] == entry {
		delete(sh.entries, key)
	}
}

// disarm は bookingID のタイマーを止める。無ければ何もしない
func (h *holdTimers) disarm(key seat.Key, bookingID string) {
	sh := h.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry, ok := sh.entries[key]
	if !ok || entry.bookingID != bookingID {
		return
	}
	delete(sh.entries, key)
	entry.timer.Stop()
}

func (h *holdTimers) stopAll() int {
	stopped := 0
	for i := range h.shards {
		sh := &h.shards[i]
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if entry.timer.Stop() {
				stopped++
			}
			delete(sh.entries, key)
		}
		sh.mu.Unlock()
	}
	return stopped
}

func (h *holdTimers) len() int {
	n := 0
	for i := range h.shards {
		sh := &h.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
