package network

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockcraft/internal/protocol"
)

func TestInboundQueue_FIFO(t *testing.T) {
	var q inboundQueue
	q.push(&protocol.ChatMessage{Message: "a"})
	q.push(&protocol.ChatMessage{Message: "b"})
	q.push(&protocol.KeepAlive{Nonce: 1})

	items := q.drain()
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].packet.(*protocol.ChatMessage).Message)
	assert.Equal(t, "b", items[1].packet.(*protocol.ChatMessage).Message)
	assert.IsType(t, &protocol.KeepAlive{}, items[2].packet)

	assert.Empty(t, q.drain())
}

func TestInboundQueue_HangupIsLast(t *testing.T) {
	var q inboundQueue
	q.push(&protocol.Player{OnGround: true})
	q.hangup("bye", causeProtocol)
	q.push(&protocol.Player{})
	q.hangup("again", causeDecode)

	items := q.drain()
	require.Len(t, items, 2)
	assert.False(t, items[0].hangup)
	assert.True(t, items[1].hangup)
	assert.Equal(t, "bye", items[1].reason)
	assert.Equal(t, causeProtocol, items[1].cause)
}

func TestInboundQueue_ConcurrentProducers(t *testing.T) {
	var q inboundQueue
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.push(&protocol.Player{})
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		total += len(q.drain())
		select {
		case <-done:
			total += len(q.drain())
			assert.Equal(t, 800, total)
			return
		default:
		}
	}
}

func TestInboundQueue_LimitHangsUp(t *testing.T) {
	q := inboundQueue{limit: 4}
	for i := 0; i < 4; i++ {
		require.True(t, q.push(&protocol.Player{}))
	}
	assert.False(t, q.push(&protocol.Player{}))
	assert.False(t, q.push(&protocol.Player{}), "после обрыва очередь закрыта")

	items := q.drain()
	require.Len(t, items, 5)
	last := items[4]
	assert.True(t, last.hangup)
	assert.Equal(t, causeProtocol, last.cause)
	assert.Equal(t, "Too many packets", last.reason)
}

func TestInboundQueue_LimitDisconnectsOnTick(t *testing.T) {
	cfg := testConfig()
	cfg.Server.InboundQueue = 16
	srv := offlineServerWith(t, cfg)
	s := pipeSession(t, srv, "Flood")

	for s.inbound.push(&protocol.Player{OnGround: true}) {
	}
	srv.tick()

	assert.True(t, s.Removed())
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.Disconnects.WithLabelValues(causeProtocol)))
}

func TestOutboundQueue_OfferAndClose(t *testing.T) {
	q := newOutboundQueue(2)
	ok, full := q.offer([]byte{1})
	assert.True(t, ok)
	assert.False(t, full)
	q.offer([]byte{2})

	ok, full = q.offer([]byte{3})
	assert.False(t, ok)
	assert.True(t, full)

	q.close()
	q.close()
	ok, full = q.offer([]byte{4})
	assert.False(t, ok)
	assert.False(t, full)

	var got [][]byte
	for f := range q.frames {
		got = append(got, f)
	}
	assert.Equal(t, [][]byte{{1}, {2}}, got)
}
