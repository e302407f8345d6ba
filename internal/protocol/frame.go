package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MaxFrameSize верхняя граница длины одного кадра
	MaxFrameSize = 2 << 20
	// DefaultFrameTimeout время на остаток кадра после его первого байта
	DefaultFrameTimeout = 10 * time.Second
)

var (
	ErrTimeout       = errors.New("read timeout")
	ErrFrameTimeout  = errors.New("frame body timeout")
	ErrConnClosed    = errors.New("connection closed")
	ErrFrameTooLarge = errors.New("frame is too large")
	ErrEmptyFrame    = errors.New("empty frame")
)

// Conn кадровый транспорт поверх TCP: varint(len) || payload.
// Чтение выполняет только горутина-читатель соединения, запись
// сериализуется мьютексом и безопасна из любых горутин.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	readTimeout  time.Duration
	writeTimeout time.Duration
	frameTimeout time.Duration
	// limit абсолютный дедлайн чтения в unix-наносекундах, 0 - без ограничения
	limit atomic.Int64

	writeMu sync.Mutex
	closed  atomic.Bool

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// NewConn оборачивает сетевое соединение
func NewConn(conn net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		frameTimeout: DefaultFrameTimeout,
	}
}

// SetDeadlineLimit ограничивает все чтения абсолютным моментом t.
// Нулевое t снимает ограничение.
func (c *Conn) SetDeadlineLimit(t time.Time) {
	if t.IsZero() {
		c.limit.Store(0)
		return
	}
	c.limit.Store(t.UnixNano())
}

// SetFrameTimeout меняет время на дочитывание начатого кадра
func (c *Conn) SetFrameTimeout(d time.Duration) {
	c.frameTimeout = d
}

// readDeadline now+d, но не позже лимита. Нулевой результат - без дедлайна.
func (c *Conn) readDeadline(d time.Duration) time.Time {
	var t time.Time
	if d > 0 {
		t = time.Now().Add(d)
	}
	if n := c.limit.Load(); n != 0 {
		if limit := time.Unix(0, n); t.IsZero() || limit.Before(t) {
			t = limit
		}
	}
	return t
}

// RemoteAddr адрес клиента
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Closed сообщает, был ли вызван Close
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// BytesIn/BytesOut счетчики трафика
func (c *Conn) BytesIn() uint64  { return c.bytesIn.Load() }
func (c *Conn) BytesOut() uint64 { return c.bytesOut.Load() }

// Close закрывает соединение. Повторные вызовы ничего не делают.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// ReadFrame блокируется до получения целого кадра, таймаута или ошибки.
// ErrTimeout возвращается только если ни один байт нового кадра не был прочитан.
// Начатый кадр дочитывается не дольше frameTimeout, иначе ErrFrameTimeout:
// после частичного чтения поток рассинхронизирован и соединение надо закрыть.
func (c *Conn) ReadFrame() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}

	_ = c.conn.SetReadDeadline(c.readDeadline(c.readTimeout))

	first, err := c.reader.ReadByte()
	if err != nil {
		return nil, c.wrapReadErr(err)
	}
	_ = c.conn.SetReadDeadline(c.readDeadline(c.frameTimeout))

	length, err := c.readLength(first)
	if err != nil {
		return nil, c.bodyErr(err)
	}
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%d bytes: %w", length, ErrFrameTooLarge)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, c.bodyErr(c.wrapReadErr(err))
	}

	c.bytesIn.Add(uint64(VarIntSize(int32(length)) + len(payload)))
	return payload, nil
}

func (c *Conn) readLength(first byte) (int, error) {
	var result uint32
	b := first
	for i := 0; ; i++ {
		if i >= MaxVarIntLen {
			return 0, ErrVarIntTooBig
		}
		result |= uint32(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			break
		}
		next, err := c.reader.ReadByte()
		if err != nil {
			return 0, c.wrapReadErr(err)
		}
		b = next
	}
	length := int32(result)
	if length < 0 {
		return 0, fmt.Errorf("frame length %d: %w", length, ErrNegativeSize)
	}
	return int(length), nil
}

// bodyErr таймаут посреди кадра отличается от таймаута ожидания нового кадра
func (c *Conn) bodyErr(err error) error {
	if errors.Is(err, ErrTimeout) {
		return ErrFrameTimeout
	}
	return err
}

func (c *Conn) wrapReadErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("frame body: %w", ErrUnexpectedEOF)
	}
	if c.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ErrConnClosed
	}
	return fmt.Errorf("%w: %v", ErrConnClosed, err)
}

// WriteFrame обрамляет payload длиной и отправляет его целиком
func (c *Conn) WriteFrame(payload []byte) error {
	frame := make([]byte, 0, len(payload)+MaxVarIntLen)
	frame = AppendVarInt(frame, int32(len(payload)))
	frame = append(frame, payload...)
	return c.writeRaw(frame)
}

// WritePacket кодирует исходящий пакет (id + поля) и отправляет его
func (c *Conn) WritePacket(p Packet) error {
	return c.WriteFrame(EncodePacket(p))
}

func (c *Conn) writeRaw(frame []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	for written := 0; written < len(frame); {
		n, err := c.conn.Write(frame[written:])
		written += n
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnClosed, err)
		}
	}

	c.bytesOut.Add(uint64(len(frame)))
	return nil
}

// ReadPacket читает кадр и декодирует его по таблице состояния.
// Неизвестный id возвращается как *UnknownPacketError вместе с сырым кадром.
func (c *Conn) ReadPacket(state State) (Packet, []byte, error) {
	payload, err := c.ReadFrame()
	if err != nil {
		return nil, nil, err
	}
	p, err := DecodePacket(state, payload)
	return p, payload, err
}
