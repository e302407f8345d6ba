package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	pk "github.com/Tnze/go-mc/net/packet"
)

// Ошибки декодирования. Любая из них фатальна для соединения.
var (
	ErrUnexpectedEOF = errors.New("unexpected end of stream")
	ErrVarIntTooBig  = errors.New("varint is too big")
	ErrStringTooLong = errors.New("string is too long")
	ErrInvalidUTF8   = errors.New("string is not valid utf-8")
	ErrNegativeSize  = errors.New("negative length")
)

const (
	// MaxVarIntLen максимальная длина varint для 32-битного значения
	MaxVarIntLen = 5
	// MaxStringLength максимальная длина строки в символах
	MaxStringLength = 32767
)

// AppendVarInt дописывает v в формате LEB128. Отрицательные значения
// кодируются как беззнаковые 32 бита (всегда 5 байт).
func AppendVarInt(buf []byte, v int32) []byte {
	b := bytes.NewBuffer(buf)
	_, _ = pk.VarInt(v).WriteTo(b)
	return b.Bytes()
}

// VarIntSize количество байт, которое займет v
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// PackNibbles упаковывает два 4-битных значения: a в старшие биты, b в младшие
func PackNibbles(a, b uint8) byte {
	return (a&0x0F)<<4 | b&0x0F
}

// UnpackNibbles обратная операция к PackNibbles
func UnpackNibbles(v byte) (a, b uint8) {
	return v >> 4, v & 0x0F
}

// PackMetaKey собирает байт ключа метаданных сущности: тип в старших 3 битах, индекс в младших 5
func PackMetaKey(index, typ uint8) byte {
	return (typ&0x07)<<5 | index&0x1F
}

// UnpackMetaKey разбирает байт ключа метаданных
func UnpackMetaKey(v byte) (index, typ uint8) {
	return v & 0x1F, v >> 5
}

// VarInt поле varint не длиннее MaxVarIntLen байт. pk.VarInt сам длину не ограничивает.
type VarInt int32

func (v *VarInt) ReadFrom(r io.Reader) (int64, error) {
	lr := &io.LimitedReader{R: r, N: MaxVarIntLen}
	var raw pk.VarInt
	n, err := raw.ReadFrom(lr)
	if err != nil {
		if lr.N == 0 {
			return n, ErrVarIntTooBig
		}
		return n, fmt.Errorf("varint: %w", ErrUnexpectedEOF)
	}
	*v = VarInt(raw)
	return n, nil
}

func (v VarInt) WriteTo(w io.Writer) (int64, error) {
	return pk.VarInt(v).WriteTo(w)
}

// String строка с varint-префиксом длины в байтах. Длина проверяется до выделения
// буфера, содержимое должно быть корректным UTF-8.
type String string

func (s *String) ReadFrom(r io.Reader) (int64, error) {
	var size VarInt
	n, err := size.ReadFrom(r)
	if err != nil {
		return n, fmt.Errorf("string length: %w", err)
	}
	if size < 0 {
		return n, fmt.Errorf("string: %w", ErrNegativeSize)
	}
	if size > MaxStringLength*4 {
		return n, fmt.Errorf("%d bytes: %w", size, ErrStringTooLong)
	}

	buf := make([]byte, size)
	m, err := io.ReadFull(r, buf)
	n += int64(m)
	if err != nil {
		return n, fmt.Errorf("string: need %d bytes: %w", size, ErrUnexpectedEOF)
	}
	if !utf8.Valid(buf) {
		return n, ErrInvalidUTF8
	}
	*s = String(buf)
	return n, nil
}

func (s String) WriteTo(w io.Writer) (int64, error) {
	return pk.String(s).WriteTo(w)
}

// Reader курсор по полезной нагрузке одного кадра. Все чтения big-endian.
type Reader struct {
	buf *bytes.Reader
}

// NewReader создает курсор по data
func NewReader(data []byte) *Reader {
	return &Reader{buf: bytes.NewReader(data)}
}

func (r *Reader) Read(p []byte) (int, error) { return r.buf.Read(p) }
func (r *Reader) ReadByte() (byte, error)    { return r.buf.ReadByte() }

// Remaining сколько байт еще не прочитано
func (r *Reader) Remaining() int {
	return r.buf.Len()
}

// Offset текущая позиция курсора
func (r *Reader) Offset() int {
	return int(r.buf.Size()) - r.buf.Len()
}

// Decode читает поля по порядку, обычно одним pk.Tuple. Нехватка байт
// в любом поле возвращается как ErrUnexpectedEOF.
func (r *Reader) Decode(fields ...io.ReaderFrom) error {
	for _, f := range fields {
		if _, err := f.ReadFrom(r); err != nil {
			return decodeErr(err)
		}
	}
	return nil
}

func decodeErr(err error) error {
	if errors.Is(err, ErrUnexpectedEOF) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrUnexpectedEOF, err)
	}
	return err
}

// ReadVarInt читает varint. Значения >= 2^31 интерпретируются как отрицательные.
func (r *Reader) ReadVarInt() (int32, error) {
	var v VarInt
	err := r.Decode(&v)
	return int32(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	var v pk.Boolean
	err := r.Decode(&v)
	return bool(v), err
}

func (r *Reader) ReadUint8() (uint8, error) {
	var v pk.UnsignedByte
	err := r.Decode(&v)
	return uint8(v), err
}

func (r *Reader) ReadInt8() (int8, error) {
	var v pk.Byte
	err := r.Decode(&v)
	return int8(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	var v pk.UnsignedShort
	err := r.Decode(&v)
	return uint16(v), err
}

func (r *Reader) ReadInt16() (int16, error) {
	var v pk.Short
	err := r.Decode(&v)
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.ReadInt32()
	return uint32(v), err
}

func (r *Reader) ReadInt32() (int32, error) {
	var v pk.Int
	err := r.Decode(&v)
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	v, err := r.ReadInt64()
	return uint64(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	var v pk.Long
	err := r.Decode(&v)
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	var v pk.Float
	err := r.Decode(&v)
	return float32(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	var v pk.Double
	err := r.Decode(&v)
	return float64(v), err
}

// ReadString читает строку с varint-префиксом длины в байтах
func (r *Reader) ReadString() (string, error) {
	var s String
	err := r.Decode(&s)
	return string(s), err
}

// ReadBytes читает ровно n байт. Возвращает копию.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("bytes: %w", ErrNegativeSize)
	}
	if r.Remaining() < n {
		return nil, fmt.Errorf("bytes: need %d, have %d: %w", n, r.Remaining(), ErrUnexpectedEOF)
	}
	out := make([]byte, n)
	_, _ = io.ReadFull(r.buf, out)
	return out, nil
}

// Writer накапливает поля пакета
type Writer struct {
	buf bytes.Buffer
}

// NewWriter создает Writer с заранее выделенной емкостью
func NewWriter(capacity int) *Writer {
	w := &Writer{}
	w.buf.Grow(capacity)
	return w
}

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }
func (w *Writer) Len() int      { return w.buf.Len() }
func (w *Writer) Reset()        { w.buf.Reset() }

func (w *Writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

// Put пишет поля по порядку, обычно одним pk.Tuple. Запись в память не ошибается.
func (w *Writer) Put(fields ...io.WriterTo) {
	for _, f := range fields {
		_, _ = f.WriteTo(&w.buf)
	}
}

func (w *Writer) WriteVarInt(v int32)    { w.Put(VarInt(v)) }
func (w *Writer) WriteBool(v bool)       { w.Put(pk.Boolean(v)) }
func (w *Writer) WriteUint8(v uint8)     { w.Put(pk.UnsignedByte(v)) }
func (w *Writer) WriteInt8(v int8)       { w.Put(pk.Byte(v)) }
func (w *Writer) WriteUint16(v uint16)   { w.Put(pk.UnsignedShort(v)) }
func (w *Writer) WriteInt16(v int16)     { w.Put(pk.Short(v)) }
func (w *Writer) WriteUint32(v uint32)   { w.Put(pk.Int(int32(v))) }
func (w *Writer) WriteInt32(v int32)     { w.Put(pk.Int(v)) }
func (w *Writer) WriteUint64(v uint64)   { w.Put(pk.Long(int64(v))) }
func (w *Writer) WriteInt64(v int64)     { w.Put(pk.Long(v)) }
func (w *Writer) WriteFloat32(v float32) { w.Put(pk.Float(v)) }
func (w *Writer) WriteFloat64(v float64) { w.Put(pk.Double(v)) }

// WriteString пишет varint длину в байтах и сами байты
func (w *Writer) WriteString(s string) { w.Put(String(s)) }

// WriteBytes пишет байты без префикса длины
func (w *Writer) WriteBytes(b []byte) { w.buf.Write(b) }
