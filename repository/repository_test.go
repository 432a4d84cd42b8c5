package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"XSlicer/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// testDB connects to TEST_MYSQL_DSN or skips the test.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.SongEntry{}, &model.GameStat{}))
	return db
}

func TestSongRepositoryRoundTrip(t *testing.T) {
	repo := NewGormSongRepository(testDB(t))
	ctx := context.Background()
	id := "t" + uuid.NewString()[:8]
	t.Cleanup(func() { _ = repo.Delete(ctx, id) })

	now := time.Now().UTC().Truncate(time.Second)
	rec := &model.ContentRecord{
		ID:         id,
		Title:      model.StringPtr("Song"),
		Artist:     model.StringPtr("Band " + id),
		SourceLink: "https://example.com/" + id,
		Rhythm:     &model.RhythmAnalysis{TempoBPM: 128.3, NumBeats: 4},
		AnalyzedAt: &now,
	}
	sink := NewCatalogSink(repo)
	require.NoError(t, sink.Published(ctx, rec))
	require.NoError(t, sink.Published(ctx, rec))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 128.3, got.TempoBPM)

	entries, total, err := repo.List(ctx, "Band "+id, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, entries, 1)

	require.NoError(t, repo.Delete(ctx, id))
	got, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGameStatRepository(t *testing.T) {
	repo := NewGormGameStatRepository(testDB(t))
	ctx := context.Background()
	player := "p-" + uuid.NewString()[:8]

	stat := &model.GameStat{PlayerID: player, Score: 10, Level: 2, TimePlayed: 31.5}
	require.NoError(t, repo.Create(ctx, stat))
	require.NotZero(t, stat.ID)

	got, err := repo.GetByID(ctx, stat.ID)
	require.NoError(t, err)
	assert.Equal(t, player, got.PlayerID)

	list, err := repo.ListByPlayer(ctx, player, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	ok, err := repo.Delete(ctx, stat.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Delete(ctx, stat.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
