package storage

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/blockcraft/internal/vec"
	"github.com/annel0/blockcraft/internal/world"
)

// ErrStoreClosed операция над закрытым хранилищем
var ErrStoreClosed = errors.New("хранилище закрыто")

// WorldStore сохраняет и загружает мир целиком.
// Save вызывается с копией мира и может выполняться в фоновой горутине.
type WorldStore interface {
	Load(ctx context.Context) (*world.World, error)
	Save(ctx context.Context, w *world.World) error
	Close() error
}

const worldFormatVersion = 1

var tracer = otel.Tracer("github.com/annel0/blockcraft/internal/storage")

// worldDocument формат сохранения мира
type worldDocument struct {
	Version   int            `json:"version"`
	Dimension int8           `json:"dimension"`
	Spawn     vec.Vec3       `json:"spawn"`
	Columns   []columnRecord `json:"columns"`
}

type columnRecord struct {
	X        int32           `json:"x"`
	Z        int32           `json:"z"`
	Biome    uint8           `json:"biome"`
	Sections []sectionRecord `json:"sections"`
}

// sectionRecord сырые массивы секции, в JSON кодируются base64
type sectionRecord struct {
	Y      int    `json:"y"`
	Blocks []byte `json:"blocks"`
	Meta   []byte `json:"meta"`
}

func encodeColumn(c *world.Column) columnRecord {
	rec := columnRecord{X: c.Pos.X, Z: c.Pos.Z, Biome: c.Biome}
	for i := 0; i < world.SectionsPerColumn; i++ {
		s := c.Section(i)
		if s == nil {
			continue
		}
		blocks, meta := s.Raw()
		rec.Sections = append(rec.Sections, sectionRecord{Y: i, Blocks: blocks, Meta: meta})
	}
	return rec
}

func decodeColumn(rec columnRecord) (*world.Column, error) {
	c := world.NewColumn(vec.ChunkPos{X: rec.X, Z: rec.Z})
	c.Biome = rec.Biome
	for _, sr := range rec.Sections {
		if sr.Y < 0 || sr.Y >= world.SectionsPerColumn {
			return nil, fmt.Errorf("колонка %d,%d: недопустимый индекс секции %d", rec.X, rec.Z, sr.Y)
		}
		s, err := world.SectionFromRaw(sr.Blocks, sr.Meta)
		if err != nil {
			return nil, fmt.Errorf("колонка %d,%d секция %d: %w", rec.X, rec.Z, sr.Y, err)
		}
		c.SetSection(sr.Y, s)
	}
	return c, nil
}

func encodeWorld(w *world.World) *worldDocument {
	doc := &worldDocument{
		Version:   worldFormatVersion,
		Dimension: w.Dimension,
		Spawn:     w.Spawn,
	}
	for _, c := range w.Columns() {
		doc.Columns = append(doc.Columns, encodeColumn(c))
	}
	return doc
}

func decodeWorld(doc *worldDocument) (*world.World, error) {
	if doc.Version != worldFormatVersion {
		return nil, fmt.Errorf("неподдерживаемая версия формата мира: %d", doc.Version)
	}
	w := world.New(doc.Dimension, nil)
	w.Spawn = doc.Spawn
	for _, rec := range doc.Columns {
		c, err := decodeColumn(rec)
		if err != nil {
			return nil, err
		}
		w.PutColumn(c)
	}
	return w, nil
}

func startSpan(ctx context.Context, name, backend string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("storage.backend", backend)))
}
