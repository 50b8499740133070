package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
)

func setup(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger, _ := test.NewNullLogger()
	c := New(rdb, 0, 0, logger)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c, mr
}

func TestDespachoDocuments(t *testing.T) {
	c, mr := setup(t)
	ctx := context.Background()

	_, ok, err := c.GetDespachoDocuments(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, ok)

	docs := []models.SGDDocument{{ID: "1", Content: "abc"}}
	require.NoError(t, c.SetDespachoDocuments(ctx, "D1", docs, 0))

	got, ok, err := c.GetDespachoDocuments(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, docs, got)

	assert.Equal(t, DefaultDocumentsTTL, mr.TTL("cache:despacho:D1"))

	raw, err := mr.Get("cache:despacho:D1")
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	assert.Equal(t, "2024-03-01T12:00:00Z", payload["cached_at"])
	assert.Equal(t, float64(300), payload["ttl"])
}

func TestDespachoDocuments_Expire(t *testing.T) {
	c, mr := setup(t)
	ctx := context.Background()

	require.NoError(t, c.SetDespachoDocuments(ctx, "D1", []models.SGDDocument{{ID: "1"}}, 10*time.Second))
	mr.FastForward(11 * time.Second)

	_, ok, err := c.GetDespachoDocuments(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDespachoDocuments_CorruptEntry(t *testing.T) {
	c, mr := setup(t)
	require.NoError(t, mr.Set("cache:despacho:D1", "{"))

	_, ok, err := c.GetDespachoDocuments(context.Background(), "D1")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestResults(t *testing.T) {
	c, mr := setup(t)
	ctx := context.Background()

	result := models.SGDDocumentResponse{DespachoID: "D1", Documents: []models.ProcessedDocument{{DocumentID: "7"}}}
	require.NoError(t, c.SetResult(ctx, "D1", "", result, 0))
	require.NoError(t, c.SetResult(ctx, "D1", "7", result.Documents[0], time.Minute))

	assert.True(t, mr.Exists("cache:result:D1"))
	assert.True(t, mr.Exists("cache:result:D1:7"))
	assert.Equal(t, DefaultResultTTL, mr.TTL("cache:result:D1"))
	assert.Equal(t, time.Minute, mr.TTL("cache:result:D1:7"))

	var got models.SGDDocumentResponse
	ok, err := c.GetResult(ctx, "D1", "", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, result, got)

	var missing models.ProcessedDocument
	ok, err = c.GetResult(ctx, "D1", "8", &missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidateDespacho(t *testing.T) {
	c, mr := setup(t)
	ctx := context.Background()

	require.NoError(t, c.SetDespachoDocuments(ctx, "D1", nil, 0))
	require.NoError(t, c.SetResult(ctx, "D1", "", map[string]string{"a": "b"}, 0))
	require.NoError(t, c.SetResult(ctx, "D1", "7", map[string]string{"a": "b"}, 0))
	require.NoError(t, c.SetResult(ctx, "D10", "", map[string]string{"a": "b"}, 0))

	removed, err := c.InvalidateDespacho(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	assert.False(t, mr.Exists("cache:despacho:D1"))
	assert.False(t, mr.Exists("cache:result:D1"))
	assert.False(t, mr.Exists("cache:result:D1:7"))
	assert.True(t, mr.Exists("cache:result:D10"))
}

func TestInvalidateDespacho_GlobCharactersAreLiteral(t *testing.T) {
	c, mr := setup(t)
	ctx := context.Background()

	require.NoError(t, c.SetResult(ctx, "OTHER", "doc1", map[string]string{"a": "b"}, 0))
	require.NoError(t, c.SetResult(ctx, "D?", "doc1", map[string]string{"a": "b"}, 0))

	removed, err := c.InvalidateDespacho(ctx, "*")
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.True(t, mr.Exists("cache:result:OTHER:doc1"))

	removed, err = c.InvalidateDespacho(ctx, "D?")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.False(t, mr.Exists("cache:result:D?:doc1"))
	assert.True(t, mr.Exists("cache:result:OTHER:doc1"))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, "D1", escapeGlob("D1"))
	assert.Equal(t, `\*\?\[a\]\\`, escapeGlob(`*?[a]\`))
}

func TestTTL(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	ttl, err := c.TTL(ctx, "D1")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	require.NoError(t, c.SetDespachoDocuments(ctx, "D1", nil, 120*time.Second))
	ttl, err = c.TTL(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, ttl)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer rdb.Close()

	_, err = NewRedisClient(context.Background(), "http://nope")
	assert.Error(t, err)
}
