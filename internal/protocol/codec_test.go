package protocol

import (
	"math"
	"testing"

	pk "github.com/Tnze/go-mc/net/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarIntKnownEncodings(t *testing.T) {
	cases := []struct {
		value int32
		want  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xAC, 0x02}},
		{2147483647, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x07}},
		{-1, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
		{-2147483648, []byte{0x80, 0x80, 0x80, 0x80, 0x08}},
	}

	for _, tc := range cases {
		got := AppendVarInt(nil, tc.value)
		assert.Equal(t, tc.want, got, "encode(%d)", tc.value)
		assert.Equal(t, len(tc.want), VarIntSize(tc.value))

		v, err := NewReader(got).ReadVarInt()
		require.NoError(t, err)
		assert.Equal(t, tc.value, v)
	}
}

func TestVarIntRoundTripSweep(t *testing.T) {
	values := []int32{math.MinInt32, math.MaxInt32}
	for v := int64(math.MinInt32); v <= math.MaxInt32; v += 104729 * 1021 {
		values = append(values, int32(v))
	}
	for shift := 0; shift < 32; shift++ {
		values = append(values, int32(1<<shift), int32(1<<shift)-1, -int32(1<<shift))
	}

	for _, v := range values {
		enc := AppendVarInt(nil, v)
		require.GreaterOrEqual(t, len(enc), 1)
		require.LessOrEqual(t, len(enc), MaxVarIntLen)

		r := NewReader(enc)
		got, err := r.ReadVarInt()
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Zero(t, r.Remaining())
	}
}

func TestVarIntErrors(t *testing.T) {
	_, err := NewReader([]byte{0x80, 0x80}).ReadVarInt()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)

	_, err = NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}).ReadVarInt()
	assert.ErrorIs(t, err, ErrVarIntTooBig)

	_, err = NewReader(nil).ReadVarInt()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestStringRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.WriteString("")
	assert.Equal(t, []byte{0x00}, w.Bytes())

	for _, s := range []string{"", "Alice", "привет, мир", "日本語", "emoji 🎮"} {
		w := NewWriter(16)
		w.WriteString(s)

		r := NewReader(w.Bytes())
		got, err := r.ReadString()
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.Zero(t, r.Remaining())
	}
}

func TestStringTruncated(t *testing.T) {
	// длина 5, но только 3 байта
	_, err := NewReader([]byte{0x05, 'a', 'b', 'c'}).ReadString()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)

	_, err = NewReader([]byte{0x02, 0xC3, 0x28}).ReadString()
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestStringRejectsBadLength(t *testing.T) {
	_, err := NewReader(AppendVarInt(nil, -1)).ReadString()
	assert.ErrorIs(t, err, ErrNegativeSize)

	_, err = NewReader(AppendVarInt(nil, MaxStringLength*4+1)).ReadString()
	assert.ErrorIs(t, err, ErrStringTooLong)
}

func TestTupleFields(t *testing.T) {
	w := NewWriter(16)
	w.Put(pk.Tuple{VarInt(300), String("hi"), pk.Int(-7), pk.Boolean(true)})
	assert.Equal(t, []byte{0xAC, 0x02, 0x02, 'h', 'i', 0xFF, 0xFF, 0xFF, 0xF9, 0x01}, w.Bytes())

	var (
		v  VarInt
		s  String
		i  pk.Int
		ok pk.Boolean
	)
	require.NoError(t, NewReader(w.Bytes()).Decode(pk.Tuple{&v, &s, &i, &ok}))
	assert.Equal(t, VarInt(300), v)
	assert.Equal(t, String("hi"), s)
	assert.Equal(t, pk.Int(-7), i)
	assert.True(t, bool(ok))

	// обрыв посреди pk.Int
	err := NewReader(w.Bytes()[:7]).Decode(pk.Tuple{&v, &s, &i, &ok})
	assert.ErrorIs(t, err, ErrUnexpectedEOF)

	// слишком длинный varint внутри кортежа
	err = NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}).Decode(pk.Tuple{&v})
	assert.ErrorIs(t, err, ErrVarIntTooBig)
}

func TestNibblePacking(t *testing.T) {
	for a := uint8(0); a < 16; a++ {
		for b := uint8(0); b < 16; b++ {
			packed := PackNibbles(a, b)
			ga, gb := UnpackNibbles(packed)
			require.Equal(t, a, ga)
			require.Equal(t, b, gb)
		}
	}
	assert.Equal(t, byte(0x8F), PackNibbles(8, 15))
}

func TestMetaKeyPacking(t *testing.T) {
	key := PackMetaKey(6, 3)
	assert.Equal(t, byte(0x66), key)

	idx, typ := UnpackMetaKey(key)
	assert.Equal(t, uint8(6), idx)
	assert.Equal(t, uint8(3), typ)
}

func TestFixedWidthRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.WriteBool(true)
	w.WriteInt8(-5)
	w.WriteUint8(250)
	w.WriteInt16(-1234)
	w.WriteUint16(65000)
	w.WriteInt32(-123456789)
	w.WriteInt64(-1234567890123)
	w.WriteFloat32(1.5)
	w.WriteFloat64(-64.25)
	w.WriteBytes([]byte{1, 2, 3})

	// big-endian
	assert.Equal(t, []byte{0xFB, 0x2E}, w.Bytes()[3:5])

	r := NewReader(w.Bytes())
	b, _ := r.ReadBool()
	i8, _ := r.ReadInt8()
	u8, _ := r.ReadUint8()
	i16, _ := r.ReadInt16()
	u16, _ := r.ReadUint16()
	i32, _ := r.ReadInt32()
	i64, _ := r.ReadInt64()
	f32, _ := r.ReadFloat32()
	f64, _ := r.ReadFloat64()
	raw, err := r.ReadBytes(3)
	require.NoError(t, err)

	assert.True(t, b)
	assert.Equal(t, int8(-5), i8)
	assert.Equal(t, uint8(250), u8)
	assert.Equal(t, int16(-1234), i16)
	assert.Equal(t, uint16(65000), u16)
	assert.Equal(t, int32(-123456789), i32)
	assert.Equal(t, int64(-1234567890123), i64)
	assert.Equal(t, float32(1.5), f32)
	assert.Equal(t, -64.25, f64)
	assert.Equal(t, []byte{1, 2, 3}, raw)
	assert.Zero(t, r.Remaining())

	_, err = r.ReadInt32()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}
