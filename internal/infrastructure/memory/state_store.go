// Package memory はプロセス内で完結するストレージ実装を提供する。
package memory

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/seat"
)

// DefaultShards は StateStore の既定シャード数
const DefaultShards = 64

// StateStore はキーのハッシュでシャード分割した座席状態テーブル。
// 各シャードは上映ID→座席ID→状態の入れ子マップを持つ。
type StateStore struct {
	shards []*stateShard
}

type stateShard struct {
	mu    sync.RWMutex
	shows map[string]map[string]seat.State
}

var _ seat.StateStore = (*StateStore)(nil)

// NewStateStore は shards 個のシャードを持つテーブルを作成する
func NewStateStore(shards int) *StateStore {
	if shards <= 0 {
		shards = DefaultShards
	}
	s := &StateStore{shards: make([]*stateShard, shards)}
	for i := range s.shards {
		s.shards[i] = &stateShard{shows: make(map[string]map[string]seat.State)}
	}
	return s
}

func (s *StateStore) shardFor(key seat.Key) *stateShard {
	h := xxhash.Sum64String(key.ShowID + "\x00" + key.SeatID)
	return s.shards[h%uint64(len(s.shards))]
}

func (s *StateStore) Load(key seat.Key) seat.State {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.shows[key.ShowID][key.SeatID]
}

func (s *StateStore) CompareAndSwap(key seat.Key, expectedVersion uint64, next seat.State) (seat.State, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	seats, ok := sh.shows[key.ShowID]
	if !ok {
		seats = make(map[string]seat.State)
		sh.shows[key.ShowID] = seats
	}
	cur := seats[key.SeatID]
	if cur.Version != expectedVersion {
		return cur, false
	}
	next.Version = expectedVersion + 1
	seats[key.SeatID] = next
	return next, true
}

func (s *StateStore) RangeShow(showID string, fn func(seatID string, st seat.State) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		seats := sh.shows[showID]
		copied := make(map[string]seat.State, len(seats))
		for id, st := range seats {
			copied[id] = st
		}
		sh.mu.RUnlock()

		for id, st := range copied {
			if !fn(id, st) {
				return
			}
		}
	}
}

func (s *StateStore) Range(fn func(key seat.Key, st seat.State) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		var copied []struct {
			key seat.Key
			st  seat.State
		}
		for showID, seats := range sh.shows {
			for seatID, st := range seats {
				copied = append(copied, struct {
					key seat.Key
					st  seat.State
				}{seat.Key{ShowID: showID, SeatID: seatID}, st})
			}
		}
		sh.mu.RUnlock()

		for _, e := range copied {
			if !fn(e.key, e.st) {
				return
			}
		}
	}
}
