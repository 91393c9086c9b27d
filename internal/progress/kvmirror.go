package progress

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyike/CortexFlow/internal/models"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/vmihailenco/msgpack/v5"
)

// Mirror is the shared cache progress records are copied to so other processes can read them.
type Mirror interface {
	Put(ctx context.Context, rec *models.JobProgress) error
	Get(ctx context.Context, jobID string) (*models.JobProgress, error)
}

// KVMirror stores records as msgpack documents in a JetStream key-value bucket.
type KVMirror struct {
	kv jetstream.KeyValue
}

var _ Mirror = (*KVMirror)(nil)

// NewKVMirror opens the bucket, creating it with the given TTL when missing.
func NewKVMirror(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*KVMirror, error) {
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "job progress records",
		TTL:         ttl,
		History:     1,
		Storage:     jetstream.MemoryStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("create progress bucket %s: %w", bucket, err)
		}
		kv, err = js.KeyValue(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("open progress bucket %s: %w", bucket, err)
		}
	}
	return &KVMirror{kv: kv}, nil
}

// kvKey maps a job id onto the NATS key alphabet without collisions. Ids made only of
// key-safe characters are kept readable; any other id is base64url encoded under its own
// prefix.
func kvKey(jobID string) string {
	if jobID != "" && strings.IndexFunc(jobID, func(r rune) bool { return !keySafe(r) }) < 0 {
		return "job." + jobID
	}
	return "job64." + base64.RawURLEncoding.EncodeToString([]byte(jobID))
}

func keySafe(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}

func (m *KVMirror) Put(ctx context.Context, rec *models.JobProgress) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode progress %s: %w", rec.JobID, err)
	}
	if _, err := m.kv.Put(ctx, kvKey(rec.JobID), data); err != nil {
		return fmt.Errorf("put progress %s: %w", rec.JobID, err)
	}
	return nil
}

func (m *KVMirror) Get(ctx context.Context, jobID string) (*models.JobProgress, error) {
	entry, err := m.kv.Get(ctx, kvKey(jobID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get progress %s: %w", jobID, err)
	}

	var rec models.JobProgress
	if err := msgpack.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("decode progress %s: %w", jobID, err)
	}
	return &rec, nil
}

// List returns every record currently in the bucket.
func (m *KVMirror) List(ctx context.Context) ([]*models.JobProgress, error) {
	keys, err := m.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]*models.JobProgress, 0, len(keys))
	for _, key := range keys {
		entry, err := m.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec models.JobProgress
		if err := msgpack.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}
