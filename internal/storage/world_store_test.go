package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockcraft/internal/vec"
	"github.com/annel0/blockcraft/internal/world"
	"github.com/annel0/blockcraft/internal/world/block"
)

func sampleWorld() *world.World {
	w := world.New(0, world.NewFlatGenerator(nil))
	w.GenerateRegion(vec.ChunkPos{}, 1)
	w.SetBlock(vec.Vec3{X: 3, Y: 100, Z: -7}, world.Block{ID: block.LogBlockID, Meta: 2})
	w.Spawn = vec.Vec3{X: 8, Y: 5, Z: 8}
	return w
}

func assertSameWorld(t *testing.T, want, got *world.World) {
	t.Helper()
	require.Equal(t, want.ColumnCount(), got.ColumnCount())
	assert.Equal(t, want.Spawn, got.Spawn)
	assert.Equal(t, want.Dimension, got.Dimension)

	for _, c := range want.Columns() {
		other := got.Column(c.Pos.X, c.Pos.Z)
		require.NotNil(t, other, "колонка %v", c.Pos)
		assert.Equal(t, c.PrimaryBitmap(), other.PrimaryBitmap())
		assert.Equal(t, c.Biome, other.Biome)

		wa, err := c.Serialize()
		require.NoError(t, err)
		wb, err := other.Serialize()
		require.NoError(t, err)
		assert.Equal(t, wa.Data, wb.Data, "колонка %v", c.Pos)
	}
}

func newFileStore(t *testing.T) *FileWorldStore {
	t.Helper()
	s, err := NewFileWorldStore(filepath.Join(t.TempDir(), "server", "world.json"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFileWorldStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	w := sampleWorld()

	require.NoError(t, s.Save(ctx, w))
	assert.FileExists(t, s.Path())
	assert.NoFileExists(t, s.Path()+".tmp")

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameWorld(t, w, loaded)

	b, err := loaded.GetBlock(vec.Vec3{X: 3, Y: 100, Z: -7})
	require.NoError(t, err)
	assert.Equal(t, world.Block{ID: block.LogBlockID, Meta: 2}, b)
}

func TestFileWorldStore_SecondSaveKeepsBackup(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	first := sampleWorld()
	require.NoError(t, s.Save(ctx, first))

	second := sampleWorld()
	second.SetBlock(vec.Vec3{X: 0, Y: 4, Z: 0}, world.Air)
	require.NoError(t, s.Save(ctx, second))

	assert.FileExists(t, s.Path()+".backup")
}

func TestFileWorldStore_MissingEverythingGivesEmptyWorld(t *testing.T) {
	s := newFileStore(t)

	w, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, w.ColumnCount())
}

func TestFileWorldStore_PromotesBackupWhenPrimaryMissing(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	w := sampleWorld()
	require.NoError(t, s.Save(ctx, w))

	require.NoError(t, os.Rename(s.Path(), s.Path()+".backup"))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameWorld(t, w, loaded)
	assert.FileExists(t, s.Path())
	assert.NoFileExists(t, s.Path()+".backup")
}

func TestFileWorldStore_CorruptPrimaryFallsBackToBackup(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	good := sampleWorld()
	require.NoError(t, s.Save(ctx, good))
	require.NoError(t, s.Save(ctx, good))

	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameWorld(t, good, loaded)
}

func TestFileWorldStore_CorruptWithoutBackupGivesEmptyWorld(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0o644))

	w, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, w.ColumnCount())
	assert.NoFileExists(t, s.Path())

	// сохранение после такой загрузки не превращает мусор в резервную копию
	good := sampleWorld()
	require.NoError(t, s.Save(context.Background(), good))
	require.NoError(t, s.Save(context.Background(), good))
	require.NoError(t, os.Remove(s.Path()))

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assertSameWorld(t, good, loaded)
}

func TestFileWorldStore_FirstSaveAfterCorruptLeavesNoBackup(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0o644))

	_, err := s.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleWorld()))

	assert.FileExists(t, s.Path())
	assert.NoFileExists(t, s.Path()+".backup")
}

func TestFileWorldStore_Closed(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, s.Close())

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Save(context.Background(), world.New(0, nil)), ErrStoreClosed)
}

func TestBadgerWorldStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s, err := NewInMemoryBadgerWorldStore()
	require.NoError(t, err)
	defer s.Close()

	empty, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.ColumnCount())

	w := sampleWorld()
	require.NoError(t, s.Save(ctx, w))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameWorld(t, w, loaded)
}

func TestBadgerWorldStore_RemovesStaleColumns(t *testing.T) {
	ctx := context.Background()
	s, err := NewInMemoryBadgerWorldStore()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(ctx, sampleWorld()))

	smaller := world.New(0, nil)
	smaller.SetBlock(vec.Vec3{X: 1, Y: 1, Z: 1}, world.NewBlock(block.StoneBlockID))
	require.NoError(t, s.Save(ctx, smaller))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.ColumnCount())
}

func TestBadgerWorldStore_Closed(t *testing.T) {
	s, err := NewInMemoryBadgerWorldStore()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Load(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestColumnKeyRoundTrip(t *testing.T) {
	x, z, err := parseColumnKey(string(columnKey(-12, 40)))
	require.NoError(t, err)
	assert.Equal(t, int32(-12), x)
	assert.Equal(t, int32(40), z)

	_, _, err = parseColumnKey("column:1")
	assert.Error(t, err)
}
