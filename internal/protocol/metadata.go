package protocol

import (
	"fmt"
	"io"

	pk "github.com/Tnze/go-mc/net/packet"
)

// Типы значений метаданных сущности (старшие 3 бита ключа)
const (
	MetaByte   uint8 = 0
	MetaShort  uint8 = 1
	MetaInt    uint8 = 2
	MetaFloat  uint8 = 3
	MetaString uint8 = 4
)

const metadataEnd = 0x7F

// MetaEntry одно значение метаданных. Value должен соответствовать Type:
// int8, int16, int32, float32 или string.
type MetaEntry struct {
	Index uint8
	Type  uint8
	Value interface{}
}

// Metadata упорядоченный список значений, на проводе завершается байтом 0x7F
type Metadata []MetaEntry

// HumanMetadata метаданные игрока по умолчанию: флаги, воздух, здоровье
func HumanMetadata(health float32) Metadata {
	return Metadata{
		{Index: 0, Type: MetaByte, Value: int8(0)},
		{Index: 1, Type: MetaShort, Value: int16(300)},
		{Index: 6, Type: MetaFloat, Value: health},
	}
}

func (m Metadata) Encode(w *Writer) {
	for _, e := range m {
		var value io.WriterTo
		switch v := e.Value.(type) {
		case int8:
			value = pk.Byte(v)
		case int16:
			value = pk.Short(v)
		case int32:
			value = pk.Int(v)
		case float32:
			value = pk.Float(v)
		case string:
			value = String(v)
		default:
			panic(fmt.Sprintf("metadata index %d: unsupported value %T", e.Index, e.Value))
		}
		w.Put(pk.UnsignedByte(PackMetaKey(e.Index, e.Type)), value)
	}
	w.Put(pk.UnsignedByte(metadataEnd))
}

func (m *Metadata) Load(r *Reader) error {
	*m = (*m)[:0]
	for {
		var key pk.UnsignedByte
		if err := r.Decode(&key); err != nil {
			return err
		}
		if key == metadataEnd {
			return nil
		}

		index, typ := UnpackMetaKey(byte(key))
		e := MetaEntry{Index: index, Type: typ}
		var err error
		switch typ {
		case MetaByte:
			var v pk.Byte
			err = r.Decode(&v)
			e.Value = int8(v)
		case MetaShort:
			var v pk.Short
			err = r.Decode(&v)
			e.Value = int16(v)
		case MetaInt:
			var v pk.Int
			err = r.Decode(&v)
			e.Value = int32(v)
		case MetaFloat:
			var v pk.Float
			err = r.Decode(&v)
			e.Value = float32(v)
		case MetaString:
			var v String
			err = r.Decode(&v)
			e.Value = string(v)
		default:
			return fmt.Errorf("metadata index %d: unsupported type %d", index, typ)
		}
		if err != nil {
			return err
		}
		*m = append(*m, e)
	}
}
