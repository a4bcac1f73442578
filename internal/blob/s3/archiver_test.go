package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// fakeWriter captures uploads in memory.
type fakeWriter struct {
	putErr  error
	objects map[string][]byte
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{objects: make(map[string][]byte)}
}

func (w *fakeWriter) Put(ctx context.Context, path string, r io.Reader, contentType string) error {
	if w.putErr != nil {
		return w.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	w.objects[path] = data
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, r io.Reader, partSize int64) error {
	return w.Put(ctx, path, r, "application/octet-stream")
}

var _ domain.BlobWriter = (*fakeWriter)(nil)

type fakeTradeStore struct {
	trades []domain.Trade
}

func (s *fakeTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.ExecutedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeAuditStore struct {
	entries []domain.AuditEntry
	logged  []string
	deleted bool
}

func (s *fakeAuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeAuditStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var kept []domain.AuditEntry
	var removed int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	s.deleted = true
	return removed, nil
}

func (s *fakeAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s.logged = append(s.logged, event)
	return nil
}

func TestArchiveTradesKeepsRows(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := &fakeTradeStore{trades: []domain.Trade{
		{ID: "t1", SharesPurchased: big.NewInt(1), PricePerShare: big.NewInt(1), ExecutedAt: cutoff.Add(-time.Hour)},
		{ID: "t2", SharesPurchased: big.NewInt(2), PricePerShare: big.NewInt(1), ExecutedAt: cutoff.Add(-2 * time.Hour)},
		{ID: "t3", SharesPurchased: big.NewInt(3), PricePerShare: big.NewInt(1), ExecutedAt: cutoff.Add(time.Hour)},
	}}
	audit := &fakeAuditStore{}
	writer := newFakeWriter()

	a := NewArchiver(writer, trades, audit)
	count, err := a.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	data, ok := writer.objects["archive/trades/2026-03.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 2)

	// The primary rows stay; only a copy went to cold storage.
	assert.Len(t, trades.trades, 3)
	assert.Equal(t, []string{"archive.trades"}, audit.logged)
}

func TestArchiveTradesNothingDue(t *testing.T) {
	writer := newFakeWriter()
	a := NewArchiver(writer, &fakeTradeStore{}, &fakeAuditStore{})

	count, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.objects, "no empty file uploads")
}

func TestArchiveAuditLogPrunesAfterUpload(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	audit := &fakeAuditStore{entries: []domain.AuditEntry{
		{ID: 1, Event: "trade_settled", CreatedAt: cutoff.Add(-time.Hour)},
		{ID: 2, Event: "listing_created", CreatedAt: cutoff.Add(time.Hour)},
	}}
	writer := newFakeWriter()

	a := NewArchiver(writer, &fakeTradeStore{}, audit)
	count, err := a.ArchiveAuditLog(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, ok := writer.objects["archive/audit/2026-03.jsonl"]
	assert.True(t, ok)

	// Only the archived row was pruned.
	require.Len(t, audit.entries, 1)
	assert.Equal(t, int64(2), audit.entries[0].ID)
}

func TestArchiveAuditLogUploadFailureKeepsRows(t *testing.T) {
	cutoff := time.Now()
	audit := &fakeAuditStore{entries: []domain.AuditEntry{
		{ID: 1, Event: "trade_settled", CreatedAt: cutoff.Add(-time.Hour)},
	}}
	writer := newFakeWriter()
	writer.putErr = errors.New("bucket unavailable")

	a := NewArchiver(writer, &fakeTradeStore{}, audit)
	_, err := a.ArchiveAuditLog(context.Background(), cutoff)
	require.Error(t, err)

	assert.False(t, audit.deleted, "prune must not run when the upload failed")
	assert.Len(t, audit.entries, 1)
}

func TestMarshalJSONL(t *testing.T) {
	buf, err := marshalJSONL([]map[string]string{{"a": "1"}, {"b": "<2>"}})
	require.NoError(t, err)
	assert.Equal(t, []byte("{\"a\":\"1\"}\n{\"b\":\"<2>\"}\n"), buf)
	assert.True(t, bytes.Contains(buf, []byte(`<`)), "HTML escaping is off")
}
