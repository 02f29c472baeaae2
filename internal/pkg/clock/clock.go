// Package clock は時刻取得と遅延コールバックのスケジューリングを提供する。
// 本番では Real、テストでは Fake を注入する。
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock は現在時刻の取得と遅延実行を抽象化する
type Clock interface {
	Now() time.Time
	// AfterFunc は d 経過後に fn を別ゴルーチン（Fake では Advance の呼び出し元）で実行する
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer はスケジュール済みコールバックのハンドル
type Timer interface {
	// Stop はコールバックを取り消す。まだ発火していなければ true を返す。
	// 二重呼び出しは何もしない。
	Stop() bool
}

// Real は time パッケージを使う Clock。
// 保留中のタイマーを追跡し、Shutdown で一括キャンセルできる。
type Real struct {
	mu      sync.Mutex
	pending map[*realTimer]struct{}
	closed  bool
	running sync.WaitGroup
}

// NewReal は新しい Real クロックを作成する
func NewReal() *Real {
	return &Real{pending: make(map[*realTimer]struct{})}
}

func (c *Real) Now() time.Time {
	return time.Now()
}

func (c *Real) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return stoppedTimer{}
	}
	t := &realTimer{clock: c}
	c.pending[t] = struct{}{}
	t.timer = time.AfterFunc(d, func() { c.fire(t, fn) })
	return t
}

func (c *Real) fire(t *realTimer, fn func()) {
	c.mu.Lock()
	if _, ok := c.pending[t]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, t)
	c.running.Add(1)
	c.mu.Unlock()

	defer c.running.Done()
	fn()
}

// Pending は未発火のタイマー数を返す
func (c *Real) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Shutdown は未発火のタイマーをすべて取り消し、実行中のコールバックの完了を待つ。
// 以降の AfterFunc は何もしないタイマーを返す。
func (c *Real) Shutdown(ctx context.Context) (int, error) {
	c.mu.Lock()
	c.closed = true
	cancelled := 0
	for t := range c.pending {
		t.timer.Stop()
		cancelled++
	}
	c.pending = make(map[*realTimer]struct{})
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return cancelled, nil
	case <-ctx.Done():
		return cancelled, ctx.Err()
	}
}

type realTimer struct {
	clock *Real
	timer *time.Timer
}

func (t *realTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	_, ok := c.pending[t]
	delete(c.pending, t)
	c.mu.Unlock()
	if ok {
		t.timer.Stop()
	}
	return ok
}

type stoppedTimer struct{}

func (stoppedTimer) Stop() bool { return false }
