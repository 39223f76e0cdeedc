package repository

import "errors"

var ErrNotFound = errors.New("not found")

// ユニーク制約違反（同じキー・同じ注文の有効決済など）
var ErrDuplicate = errors.New("duplicate")

// 楽観ロックの条件に合わなかった（別の更新が先に入った）
var ErrConflict = errors.New("conflict")
