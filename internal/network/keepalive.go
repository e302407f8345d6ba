package network

import "math/rand"

type keepAlivePhase uint8

const (
	keepAliveWaiting keepAlivePhase = iota
	keepAliveSent
)

func (p keepAlivePhase) String() string {
	if p == keepAliveSent {
		return "SENT"
	}
	return "WAITING"
}

// keepAliveAction что тиковый цикл должен сделать после шага автомата
type keepAliveAction uint8

const (
	keepAliveNone keepAliveAction = iota
	keepAlivePing
	keepAliveTimeout
)

// keepAlive автомат проверки живости: WAITING -> (истек счетчик, ping) -> SENT -> (эхо) -> WAITING.
// Истечение счетчика в SENT означает таймаут.
type keepAlive struct {
	phase     keepAlivePhase
	remaining int
	nonce     int32
}

func newKeepAlive(interval int) keepAlive {
	return keepAlive{phase: keepAliveWaiting, remaining: interval}
}

// tick продвигает счетчик на один тик. При переходе в SENT nonce берется из next.
func (k *keepAlive) tick(timeout int, next func() int32) keepAliveAction {
	k.remaining--
	if k.remaining > 0 {
		return keepAliveNone
	}

	if k.phase == keepAliveSent {
		return keepAliveTimeout
	}
	k.phase = keepAliveSent
	k.nonce = next()
	k.remaining = timeout
	return keepAlivePing
}

// echo принимает ответ клиента. false - nonce не совпал или ping не отправлялся.
func (k *keepAlive) echo(nonce int32, interval int) bool {
	if k.phase != keepAliveSent || nonce != k.nonce {
		return false
	}
	k.phase = keepAliveWaiting
	k.remaining = interval
	k.nonce = 0
	return true
}

// randomNonce случайное ненулевое значение
func randomNonce() int32 {
	for {
		if n := rand.Int31(); n != 0 {
			return n
		}
	}
}
