package seat

// StateStore は座席状態テーブルのインターフェース。
// キー単位の O(1) 条件付き更新を提供し、全体を直列化するロックは持たない。
type StateStore interface {
	// Load は現在の状態を返す。未作成ならゼロ値（available, Version 0）
	Load(key Key) State

	// CompareAndSwap は現在の Version が expectedVersion と一致する場合のみ next を書き込む。
	// 書き込み後の Version は expectedVersion+1。戻り値は書き込み後（失敗時は現在）の状態。
	CompareAndSwap(key Key, expectedVersion uint64, next State) (State, bool)

	// RangeShow は上映回の作成済み座席状態を走査する。fn が false を返すと中断する
	RangeShow(showID string, fn func(seatID string, st State) bool)

	// Range は全座席状態を走査する。fn が false を返すと中断する
	Range(fn func(key Key, st State) bool)
}
