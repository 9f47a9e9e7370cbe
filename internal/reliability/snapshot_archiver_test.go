package reliability

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/greekwatch/internal/modules/greeks"
	testutil "github.com/aristath/greekwatch/internal/testing"
)

var testNow = time.Date(2026, 3, 20, 14, 30, 0, 0, time.UTC)

// memoryStore is an in-memory bucket.
type memoryStore struct {
	objects   map[string][]byte
	failAfter int
	uploads   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, failAfter: -1}
}

func (m *memoryStore) Upload(_ context.Context, key string, body io.Reader, size int64) error {
	if m.failAfter >= 0 && m.uploads >= m.failAfter {
		return errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.uploads++
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]types.Object, error) {
	var out []types.Object
	for key, data := range m.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(data)))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].Key < *out[j].Key })
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func readArchive(t *testing.T, data []byte) []greeks.StoredSnapshot {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	var out []greeks.StoredSnapshot
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var s greeks.StoredSnapshot
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &s))
		out = append(out, s)
	}
	require.NoError(t, scanner.Err())
	return out
}

func newTestRepo(t *testing.T, count int) *greeks.Repository {
	t.Helper()
	repo := greeks.NewRepository(testutil.NewTestConn(t, "greeks"), zerolog.New(nil).Level(zerolog.Disabled))
	for i := 0; i < count; i++ {
		agg := greeks.Aggregate([]greeks.PositionGreeks{{
			PositionID:  "p1",
			DollarDelta: decimal.NewFromInt(int64(i)),
			Notional:    decimal.NewFromInt(100),
			Valid:       true,
			AsOf:        testNow.Add(time.Duration(i) * time.Hour),
		}}, greeks.ScopeAccount, "acct-1")
		_, err := repo.SaveSnapshot(context.Background(), agg)
		require.NoError(t, err)
	}
	return repo
}

func newTestArchiver(repo SnapshotStore, objects ObjectStore) *SnapshotArchiver {
	return NewSnapshotArchiver(repo, objects, "prod/", zerolog.New(nil).Level(zerolog.Disabled))
}

func TestSnapshotArchiver_PruneArchivesInBatches(t *testing.T) {
	repo := newTestRepo(t, 7)
	bucket := newMemoryStore()
	archiver := newTestArchiver(repo, bucket)
	archiver.batchSize = 2

	cutoff := testNow.Add(5 * time.Hour)
	result, err := archiver.Prune(context.Background(), cutoff)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Archived)
	assert.Equal(t, int64(5), result.Deleted)
	require.Len(t, result.Objects, 3)
	assert.Equal(t, "prod/greeks-snapshots-20260320T153000Z-2.jsonl.gz", result.Objects[0])

	var archived []greeks.StoredSnapshot
	for _, key := range result.Objects {
		archived = append(archived, readArchive(t, bucket.objects[key])...)
	}
	require.Len(t, archived, 5)
	for i, s := range archived {
		assert.True(t, s.Snapshot.DollarDelta.Equal(decimal.NewFromInt(int64(i))))
	}

	left, err := repo.ListSnapshotsBefore(context.Background(), testNow.Add(24*time.Hour), 100)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestSnapshotArchiver_UploadFailureKeepsRows(t *testing.T) {
	repo := newTestRepo(t, 4)
	bucket := newMemoryStore()
	bucket.failAfter = 1
	archiver := newTestArchiver(repo, bucket)
	archiver.batchSize = 2

	result, err := archiver.Prune(context.Background(), testNow.Add(24*time.Hour))
	assert.ErrorContains(t, err, "bucket unavailable")
	assert.Equal(t, 2, result.Archived)

	left, err := repo.ListSnapshotsBefore(context.Background(), testNow.Add(24*time.Hour), 100)
	require.NoError(t, err)
	assert.Len(t, left, 2, "unarchived rows stay")
}

func TestSnapshotArchiver_WithoutBucketDeletes(t *testing.T) {
	repo := newTestRepo(t, 3)
	archiver := newTestArchiver(repo, nil)

	result, err := archiver.Prune(context.Background(), testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Archived)
	assert.Equal(t, int64(2), result.Deleted)

	archives, err := archiver.ListArchives(context.Background())
	require.NoError(t, err)
	assert.Empty(t, archives)
}

func TestSnapshotArchiver_NothingToPrune(t *testing.T) {
	bucket := newMemoryStore()
	archiver := newTestArchiver(newTestRepo(t, 2), bucket)

	result, err := archiver.Prune(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, result.Archived)
	assert.Empty(t, bucket.objects)
}

func TestSnapshotArchiver_RotateArchives(t *testing.T) {
	bucket := newMemoryStore()
	archiver := newTestArchiver(newTestRepo(t, 0), bucket)
	for day := 1; day <= 6; day++ {
		ts := time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC)
		bucket.objects[archiver.archiveKey(ts, int64(day))] = []byte("x")
	}
	bucket.objects["prod/greeks-snapshots-garbage.jsonl.gz"] = []byte("x")

	archives, err := archiver.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, archives, 6, "unparseable keys are skipped")
	assert.Equal(t, 6, archives[0].Timestamp.Day(), "newest first")

	// Days 1 to 4 predate the cutoff; day 4 survives as one of the newest three
	deleted, err := archiver.RotateArchives(context.Background(), time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	archives, err = archiver.ListArchives(context.Background())
	require.NoError(t, err)
	assert.Len(t, archives, 3)
}

func TestSnapshotArchiver_ParseArchiveKey(t *testing.T) {
	archiver := newTestArchiver(nil, nil)
	ts := time.Date(2026, 3, 20, 14, 30, 0, 0, time.UTC)

	parsed, ok := archiver.parseArchiveKey(archiver.archiveKey(ts, 42))
	require.True(t, ok)
	assert.True(t, parsed.Equal(ts))

	for _, key := range []string{
		"prod/greeks-snapshots-20260320T143000Z.jsonl.gz",
		"prod/greeks-snapshots-20260320T143000Z-x.jsonl.gz",
		"prod/other-20260320T143000Z-1.jsonl.gz",
		"prod/greeks-snapshots-20260320T143000Z-1.json",
	} {
		_, ok := archiver.parseArchiveKey(key)
		assert.False(t, ok, key)
	}
}
