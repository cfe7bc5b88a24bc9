package files

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/zeebo/blake3"
)

const compressedSuffix = ".zst"

var ErrDigestMismatch = errors.New("file digest mismatch")

// Registry stores published blobs under <dir>/<key>/<filename> and keeps
// the key to record mapping in memory.
type Registry struct {
	mu       sync.RWMutex
	dir      string
	compress bool
	records  map[string]types.FileRecord
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

func NewRegistry(dir string, compress bool) (*Registry, error) {
	if dir == "" {
		return nil, fmt.Errorf("files directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create files directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &Registry{
		dir:      dir,
		compress: compress,
		records:  make(map[string]types.FileRecord),
		encoder:  encoder,
		decoder:  decoder,
	}, nil
}

func sanitizeFilename(filename string) string {
	clean := filepath.Base(filepath.Clean(filename))
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "\\", "_")
	if clean == "." || clean == ".." || clean == "" {
		return "unnamed"
	}
	return clean
}

func validateKey(key string) error {
	if _, err := uuid.Parse(key); err != nil {
		return fmt.Errorf("invalid file key %q: %w", key, types.ErrBadRequest)
	}
	return nil
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Publish stores data under a new key and returns its record.
func (r *Registry) Publish(publisher, filename string, data []byte) (types.FileRecord, error) {
	key := uuid.NewString()
	name := sanitizeFilename(filename)

	blob := data
	path := filepath.Join(r.dir, key, name)
	if r.compress {
		blob = r.encoder.EncodeAll(data, nil)
		path += compressedSuffix
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return types.FileRecord{}, fmt.Errorf("create file directory: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o640); err != nil {
		return types.FileRecord{}, fmt.Errorf("write file: %w", err)
	}

	rec := types.FileRecord{
		Key:        key,
		Filename:   name,
		Path:       path,
		Size:       int64(len(data)),
		Digest:     digest(data),
		Compressed: r.compress,
		Publisher:  publisher,
		CreatedAt:  time.Now().UTC(),
	}

	r.mu.Lock()
	r.records[key] = rec
	r.mu.Unlock()

	return rec, nil
}

// Open returns the record stored under key and the original bytes.
func (r *Registry) Open(key string) (types.FileRecord, []byte, error) {
	if err := validateKey(key); err != nil {
		return types.FileRecord{}, nil, err
	}

	r.mu.RLock()
	rec, ok := r.records[key]
	r.mu.RUnlock()
	if !ok {
		return types.FileRecord{}, nil, types.ErrNoFileFound
	}

	blob, err := os.ReadFile(rec.Path)
	if err != nil {
		return types.FileRecord{}, nil, fmt.Errorf("read file %q: %w", key, err)
	}

	data := blob
	if rec.Compressed {
		data, err = r.decoder.DecodeAll(blob, nil)
		if err != nil {
			return types.FileRecord{}, nil, fmt.Errorf("decompress file %q: %w", key, err)
		}
	}

	if rec.Digest != "" && digest(data) != rec.Digest {
		return types.FileRecord{}, nil, fmt.Errorf("file %q: %w", key, ErrDigestMismatch)
	}

	return rec, data, nil
}

// Records lists every stored file ordered by key.
func (r *Registry) Records() []types.FileRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.FileRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out
}

// Restore replaces the known records. Records whose key is invalid or
// whose blob is gone are skipped and their keys returned.
func (r *Registry) Restore(records []types.FileRecord) (skipped []string) {
	restored := make(map[string]types.FileRecord, len(records))
	for _, rec := range records {
		if validateKey(rec.Key) != nil {
			skipped = append(skipped, rec.Key)
			continue
		}
		if _, err := os.Stat(rec.Path); err != nil {
			skipped = append(skipped, rec.Key)
			continue
		}
		restored[rec.Key] = rec
	}

	r.mu.Lock()
	r.records = restored
	r.mu.Unlock()

	return skipped
}

func (r *Registry) Close() {
	r.encoder.Close()
	r.decoder.Close()
}
