package network

import (
	"sync"

	"github.com/annel0/blockcraft/internal/protocol"
)

// Причины отключения, они же значения метки cause в метриках
const (
	causeKick      = "kick"
	causeTransport = "transport"
	causeDecode    = "decode"
	causeProtocol  = "protocol"
	causeTimeout   = "timeout"
	causeInternal  = "internal"
	causeShutdown  = "shutdown"
	causeOverflow  = "overflow"
)

const (
	defaultInboundQueue  = 1024
	defaultOutboundQueue = 1024
)

// inboundItem либо пакет, либо маркер обрыва соединения
type inboundItem struct {
	packet protocol.PlayPacket
	hangup bool
	reason string // текст для клиента, пусто - молча
	cause  string
}

// inboundQueue очередь входящих пакетов сессии.
// Пишет горутина-читатель, читает только тиковый цикл.
type inboundQueue struct {
	mu     sync.Mutex
	items  []inboundItem
	limit  int
	closed bool
}

// push добавляет пакет. Если между тиками накопилось больше limit пакетов,
// вместо пакета ставится маркер обрыва и push возвращает false.
func (q *inboundQueue) push(p protocol.PlayPacket) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		q.items = append(q.items, inboundItem{hangup: true, reason: "Too many packets", cause: causeProtocol})
		q.closed = true
		return false
	}
	q.items = append(q.items, inboundItem{packet: p})
	return true
}

// hangup ставит маркер обрыва последним элементом, после него очередь не принимает пакеты
func (q *inboundQueue) hangup(reason, cause string) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, inboundItem{hangup: true, reason: reason, cause: cause})
		q.closed = true
	}
	q.mu.Unlock()
}

// drain забирает все накопленные элементы в порядке поступления
func (q *inboundQueue) drain() []inboundItem {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

func (q *inboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// outboundQueue кадры на отправку. Пишет тиковый цикл, читает горутина-писатель сессии.
type outboundQueue struct {
	mu     sync.Mutex
	frames chan []byte
	closed bool
}

func newOutboundQueue(size int) *outboundQueue {
	return &outboundQueue{frames: make(chan []byte, size)}
}

// offer ставит кадр в очередь без ожидания. full сообщает о переполнении.
func (q *outboundQueue) offer(payload []byte) (ok, full bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, false
	}
	select {
	case q.frames <- payload:
		return true, false
	default:
		return false, true
	}
}

// close запрещает новые кадры, писатель отправит уже поставленные и завершится
func (q *outboundQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.frames)
	}
	q.mu.Unlock()
}
