package catalog

import "errors"

// Catalog ドメインのエラー定義
var (
	ErrShowNotFound    = errors.New("上映回が見つかりません")
	ErrShowIDRequired  = errors.New("上映IDは必須です")
	ErrTitleRequired   = errors.New("タイトルは必須です")
	ErrInvalidCapacity = errors.New("定員は1以上である必要があります")
	ErrShowNotOpen     = errors.New("上映回の予約受付期間外です")
)
