package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
)

// bulkheadの枠が空いていない
var ErrBulkheadFull = errors.New("bulkhead full")

type Settings struct {
	Name string

	// 連続失敗でopen、OpenTimeout後にhalf-openでHalfOpenRequests件だけ通す
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32

	// 同時実行数。超えた分は待たせずに弾く
	MaxConcurrent int64

	// 1回目を含めた試行回数
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// 1回の呼び出しのタイムアウト
	Timeout time.Duration
}

// 1つの外部操作を retry -> breaker -> bulkhead -> timeout の順で包む。
type Policy struct {
	settings  Settings
	breaker   *gobreaker.CircuitBreaker
	bulkhead  *semaphore.Weighted
	transient func(error) bool
}

// transient はリトライ対象かつbreakerの失敗として数えるエラーを判定する。
func NewPolicy(s Settings, transient func(error) bool) *Policy {
	if s.MaxAttempts == 0 {
		s.MaxAttempts = 1
	}
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = 1
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}
	if s.InitialInterval <= 0 {
		s.InitialInterval = 100 * time.Millisecond
	}
	if s.MaxInterval <= 0 {
		s.MaxInterval = 2 * time.Second
	}
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	p := &Policy{
		settings:  s,
		bulkhead:  semaphore.NewWeighted(s.MaxConcurrent),
		transient: transient,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			//拒否(4xx)と満杯は依存先の故障ではない
			return err == nil || errors.Is(err, ErrBulkheadFull) || !p.transient(err)
		},
	})
	return p
}

func (p *Policy) Name() string {
	return p.settings.Name
}

func (p *Policy) State() gobreaker.State {
	return p.breaker.State()
}

// 失敗時はfnが返した最後のエラー、またはErrBulkheadFull / gobreaker.ErrOpenState などを返す。
func (p *Policy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.settings.InitialInterval
	eb.MaxInterval = p.settings.MaxInterval
	eb.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, p.settings.MaxAttempts-1), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := p.once(ctx, fn)
		if err == nil {
			return nil
		}
		if !p.retryable(err) {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Str("policy", p.settings.Name).Int("attempt", attempt).Msg("transient failure")
		return err
	}, bo)
}

func (p *Policy) once(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		if !p.bulkhead.TryAcquire(1) {
			return nil, ErrBulkheadFull
		}
		defer p.bulkhead.Release(1)

		callCtx := ctx
		if p.settings.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.settings.Timeout)
			defer cancel()
		}
		return nil, fn(callCtx)
	})
	return err
}

// breaker open・満杯は即座に返す
func (p *Policy) retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || errors.Is(err, ErrBulkheadFull) {
		return false
	}
	return p.transient(err)
}

// 呼び出し側がゲートウェイ不通として扱うべきエラーか
func IsShortCircuit(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || errors.Is(err, ErrBulkheadFull)
}
