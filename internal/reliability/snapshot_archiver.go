// Package reliability keeps the monitor's databases bounded and healthy:
// snapshot retention with optional off-site archiving, and periodic maintenance.
package reliability

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/aristath/greekwatch/internal/modules/greeks"
)

const (
	archiveKeyPrefix  = "greeks-snapshots-"
	archiveKeySuffix  = ".jsonl.gz"
	archiveTimeLayout = "20060102T150405Z"
	defaultBatchSize  = 1000
	minArchivesToKeep = 3
)

// ObjectStore is the bucket the archiver writes to.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]types.Object, error)
	Delete(ctx context.Context, key string) error
}

// SnapshotStore is the snapshot table the archiver drains.
type SnapshotStore interface {
	ListSnapshotsBefore(ctx context.Context, before time.Time, limit int) ([]greeks.StoredSnapshot, error)
	DeleteSnapshotsByID(ctx context.Context, ids []int64) (int64, error)
	DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error)
}

// PruneResult summarises one retention pass.
type PruneResult struct {
	Archived int      `json:"archived"`
	Deleted  int64    `json:"deleted"`
	Objects  []string `json:"objects,omitempty"`
}

// ArchiveInfo describes an archive object in the bucket.
type ArchiveInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// SnapshotArchiver moves expired snapshots out of the database.
// Without an object store, expired snapshots are deleted outright.
type SnapshotArchiver struct {
	store     SnapshotStore
	objects   ObjectStore
	prefix    string
	batchSize int
	log       zerolog.Logger
}

// NewSnapshotArchiver creates an archiver. objects may be nil.
func NewSnapshotArchiver(store SnapshotStore, objects ObjectStore, prefix string, log zerolog.Logger) *SnapshotArchiver {
	return &SnapshotArchiver{
		store:     store,
		objects:   objects,
		prefix:    prefix,
		batchSize: defaultBatchSize,
		log:       log.With().Str("service", "snapshot_archiver").Logger(),
	}
}

// Prune removes snapshots with as_of before cutoff. With an object store each
// batch is uploaded as gzip JSON lines before its rows are deleted; a failed
// upload stops the pass and leaves the remaining rows in place.
func (a *SnapshotArchiver) Prune(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	var result PruneResult

	if a.objects == nil {
		deleted, err := a.store.DeleteSnapshotsBefore(ctx, cutoff)
		if err != nil {
			return result, err
		}
		result.Deleted = deleted
		return result, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := a.store.ListSnapshotsBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			break
		}

		key, err := a.uploadBatch(ctx, batch)
		if err != nil {
			return result, err
		}
		result.Objects = append(result.Objects, key)
		result.Archived += len(batch)

		ids := make([]int64, len(batch))
		for i, s := range batch {
			ids[i] = s.ID
		}
		deleted, err := a.store.DeleteSnapshotsByID(ctx, ids)
		if err != nil {
			return result, err
		}
		result.Deleted += deleted

		if len(batch) < a.batchSize {
			break
		}
	}

	if result.Archived > 0 {
		a.log.Info().
			Int("archived", result.Archived).
			Int64("deleted", result.Deleted).
			Int("objects", len(result.Objects)).
			Time("cutoff", cutoff).
			Msg("Archived expired snapshots")
	}
	return result, nil
}

func (a *SnapshotArchiver) uploadBatch(ctx context.Context, batch []greeks.StoredSnapshot) (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, s := range batch {
		if err := enc.Encode(s); err != nil {
			return "", fmt.Errorf("failed to encode snapshot %d: %w", s.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("failed to compress archive: %w", err)
	}

	last := batch[len(batch)-1]
	key := a.archiveKey(last.Snapshot.AsOf, last.ID)
	size := int64(buf.Len())
	if err := a.objects.Upload(ctx, key, &buf, size); err != nil {
		return "", err
	}
	return key, nil
}

func (a *SnapshotArchiver) archiveKey(newest time.Time, lastID int64) string {
	return fmt.Sprintf("%s%s%s-%d%s", a.prefix, archiveKeyPrefix, newest.UTC().Format(archiveTimeLayout), lastID, archiveKeySuffix)
}

// parseArchiveKey extracts the newest-data timestamp from an archive key.
func (a *SnapshotArchiver) parseArchiveKey(key string) (time.Time, bool) {
	name := strings.TrimPrefix(key, a.prefix)
	if !strings.HasPrefix(name, archiveKeyPrefix) || !strings.HasSuffix(name, archiveKeySuffix) {
		return time.Time{}, false
	}
	name = strings.TrimSuffix(strings.TrimPrefix(name, archiveKeyPrefix), archiveKeySuffix)

	dash := strings.LastIndex(name, "-")
	if dash < 0 {
		return time.Time{}, false
	}
	if _, err := strconv.ParseInt(name[dash+1:], 10, 64); err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(archiveTimeLayout, name[:dash])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// ListArchives lists archive objects, newest first.
func (a *SnapshotArchiver) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	if a.objects == nil {
		return nil, nil
	}
	objects, err := a.objects.List(ctx, a.prefix+archiveKeyPrefix)
	if err != nil {
		return nil, err
	}

	archives := make([]ArchiveInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		ts, ok := a.parseArchiveKey(*obj.Key)
		if !ok {
			a.log.Warn().Str("key", *obj.Key).Msg("Failed to parse timestamp from archive key")
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		archives = append(archives, ArchiveInfo{Key: *obj.Key, Timestamp: ts, SizeBytes: size})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp.After(archives[j].Timestamp)
	})
	return archives, nil
}

// RotateArchives deletes archives whose data is older than cutoff, always
// keeping the newest few. Returns how many were deleted.
func (a *SnapshotArchiver) RotateArchives(ctx context.Context, cutoff time.Time) (int, error) {
	archives, err := a.ListArchives(ctx)
	if err != nil {
		return 0, err
	}
	if len(archives) <= minArchivesToKeep {
		return 0, nil
	}

	deleted := 0
	for _, archive := range archives[minArchivesToKeep:] {
		if !archive.Timestamp.Before(cutoff) {
			continue
		}
		if err := a.objects.Delete(ctx, archive.Key); err != nil {
			a.log.Error().Err(err).Str("key", archive.Key).Msg("Failed to delete old archive")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		a.log.Info().
			Int("deleted", deleted).
			Int("remaining", len(archives)-deleted).
			Msg("Archive rotation completed")
	}
	return deleted, nil
}
