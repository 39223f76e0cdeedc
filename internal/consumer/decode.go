package consumer

import (
	"encoding/json"
	"errors"
	"fmt"

	"spot/internal/infra/eventbus"

	"github.com/rs/zerolog/log"
)

var errMissingOrderID = errors.New("orderId is missing")

// 読めないメッセージの扱い。
// deadLetter=false ならログを出して捨てる（ack）、true ならDLXへ送る。
type decodePolicy struct {
	deadLetter bool
}

// okがfalseのときは返したエラーをそのままハンドラの戻り値にする
func (d decodePolicy) decode(msg eventbus.Message, v any, orderID func() string) (bool, error) {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return false, d.reject(msg, err)
	}
	if orderID() == "" {
		return false, d.reject(msg, errMissingOrderID)
	}
	return true, nil
}

func (d decodePolicy) reject(msg eventbus.Message, cause error) error {
	log.Warn().Err(cause).
		Str("topic", msg.Topic).
		Str("message_id", msg.ID).
		Bool("dead_letter", d.deadLetter).
		Msg("undecodable message")
	if d.deadLetter {
		return fmt.Errorf("%w: %v", eventbus.ErrDeadLetter, cause)
	}
	return nil
}
