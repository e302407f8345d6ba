package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Типы игровых событий, экспортируемых сервером
const (
	TypePlayerJoin  = "player.join"
	TypePlayerQuit  = "player.quit"
	TypeBlockBreak  = "block.break"
	TypeChatMessage = "chat.message"
)

// Types все типы событий в порядке объявления
var Types = []string{TypePlayerJoin, TypePlayerQuit, TypeBlockBreak, TypeChatMessage}

// Приоритеты событий. Низкий приоритет отбрасывается при переполнении буфера.
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 9
)

// ErrBusClosed публикация в закрытую шину
var ErrBusClosed = errors.New("eventbus: шина закрыта")

// Envelope игровое событие вместе с полезной нагрузкой в JSON
type Envelope struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"ts"`
	Source    string          `json:"source"`
	EventType string          `json:"type"`
	Version   int             `json:"v"`
	Priority  int             `json:"prio"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope создаёт конверт с новым UUID
func NewEnvelope(source, eventType string, priority int, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("eventbus: payload %s: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Priority:  priority,
		Payload:   data,
	}, nil
}

// Decode разбирает полезную нагрузку
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Filter отбирает события по типу и источнику. Пустой список пропускает всё.
type Filter struct {
	Types   []string
	Sources []string
}

// Match проверяет событие по фильтру
func (f Filter) Match(ev *Envelope) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, ev.EventType) {
		return false
	}
	return len(f.Sources) == 0 || slices.Contains(f.Sources, ev.Source)
}

// Subscription отписка от шины
type Subscription interface {
	Unsubscribe()
}

// Handler потребитель событий
type Handler func(ctx context.Context, ev *Envelope)

// Stats счетчики шины
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus шина игровых событий: в памяти процесса или NATS JetStream
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}
