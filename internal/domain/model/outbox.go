package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type OutboxStatus string

const (
	OutboxStatusInit      OutboxStatus = "INIT"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// FAILEDは捨てない。次のtickで再送対象になる。
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	switch s {
	case OutboxStatusInit:
		return next == OutboxStatusPublished || next == OutboxStatusFailed
	case OutboxStatusFailed:
		return next == OutboxStatusPublished || next == OutboxStatusFailed
	case OutboxStatusPublished:
		return false
	default:
		return false
	}
}

// nextへ遷移できる状態の一覧。条件付きUPDATEのWHEREに使う。
func OutboxStatusesInto(next OutboxStatus) []string {
	all := []OutboxStatus{OutboxStatusInit, OutboxStatusFailed, OutboxStatusPublished}
	from := make([]string, 0, len(all))
	for _, s := range all {
		if s.CanTransitionTo(next) {
			from = append(from, string(s))
		}
	}
	return from
}

const (
	AggregateOrder   = "ORDER"
	AggregatePayment = "PAYMENT"
)

// 業務データと同じトランザクションで書かれるイベント。
// 作成後のstatusはrelayだけが変える。
type OutboxRecord struct {
	ID            string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AggregateType string         `gorm:"type:varchar(50);not null" json:"aggregate_type"`
	AggregateID   string         `gorm:"type:varchar(36);not null;index" json:"aggregate_id"`
	EventType     string         `gorm:"type:varchar(100);not null" json:"event_type"`
	Payload       datatypes.JSON `gorm:"not null" json:"payload"`
	Status        OutboxStatus   `gorm:"type:varchar(20);not null;index:idx_outbox_status_next_attempt,priority:1" json:"status"`
	RetryCount    int            `gorm:"not null;default:0" json:"retry_count"`
	NextAttemptAt time.Time      `gorm:"not null;index:idx_outbox_status_next_attempt,priority:2" json:"next_attempt_at"`
	PublishedAt   *time.Time     `json:"published_at,omitempty"`
	LastError     string         `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;index" json:"created_at"`
}

func (OutboxRecord) TableName() string {
	return "outbox"
}

type SerializationError struct {
	EventType string
	Err       error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize %s payload: %v", e.EventType, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

func NewOutboxRecord(id, aggregateType, aggregateID, eventType string, payload any, now time.Time) (OutboxRecord, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxRecord{}, &SerializationError{EventType: eventType, Err: err}
	}
	return OutboxRecord{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       datatypes.JSON(body),
		Status:        OutboxStatusInit,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// 2^retry秒、上限1時間
func OutboxBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return time.Second
	}
	if retryCount >= 12 {
		return time.Hour
	}
	d := time.Duration(1<<uint(retryCount)) * time.Second
	if d > time.Hour {
		return time.Hour
	}
	return d
}
