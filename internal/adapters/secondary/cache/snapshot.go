package cache

import (
	"bytes"
	"container/list"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
)

// ErrSnapshotCorrupt is returned by Load when the snapshot file cannot be
// trusted. The cache is left empty in that case.
var ErrSnapshotCorrupt = errors.New("cache snapshot corrupt")

// Snapshot file layout:
//
//	magic(4) | version(1) | compression(1) | blake3(payload)(32) | payload
//
// payload is the compressed CBOR array of snapshotRecord.
var snapshotMagic = [4]byte{'P', 'A', 'P', 'C'}

const (
	snapshotVersion    = 1
	snapshotHeaderSize = 4 + 1 + 1 + 32
)

// Compression tags are part of the file format.
const (
	tagNone byte = 0
	tagLZ4  byte = 1
	tagZstd byte = 2
)

type snapshotRecord[K comparable, V any] struct {
	Key        K     `cbor:"k"`
	Value      V     `cbor:"v"`
	InsertedAt int64 `cbor:"i"`
	ExpiresAt  int64 `cbor:"x"` // unix nanos, 0 = never
}

var (
	codecOnce sync.Once
	codecErr  error
	encMode   cbor.EncMode
	decMode   cbor.DecMode
	zstdEnc   *zstd.Encoder
	zstdDec   *zstd.Decoder
)

// initCodecs builds the shared CBOR modes and zstd coders. zstd.Encoder
// and zstd.Decoder are safe for concurrent EncodeAll/DecodeAll.
func initCodecs() error {
	codecOnce.Do(func() {
		if encMode, codecErr = cbor.CoreDetEncOptions().EncMode(); codecErr != nil {
			return
		}
		if decMode, codecErr = (cbor.DecOptions{
			DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		}).DecMode(); codecErr != nil {
			return
		}
		if zstdEnc, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); codecErr != nil {
			return
		}
		zstdDec, codecErr = zstd.NewReader(nil)
	})
	return codecErr
}

func compressionTag(name string) byte {
	switch name {
	case entities.CompressionNone:
		return tagNone
	case entities.CompressionLZ4:
		return tagLZ4
	default:
		return tagZstd
	}
}

func compress(data []byte, tag byte) ([]byte, error) {
	switch tag {
	case tagNone:
		return data, nil
	case tagLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	case tagZstd:
		return zstdEnc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func decompress(data []byte, tag byte) ([]byte, error) {
	switch tag {
	case tagNone:
		return data, nil
	case tagLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	case tagZstd:
		out, err := zstdDec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// Save writes the live entries to the configured snapshot file. It is a
// no-op when persistence is not configured.
func (c *Cache[K, V]) Save() error {
	config := c.Config()
	if !config.PersistenceEnabled() {
		return nil
	}
	if err := initCodecs(); err != nil {
		return fmt.Errorf("initializing snapshot codecs: %w", err)
	}

	now := c.clock.Now()
	c.mu.RLock()
	records := make([]snapshotRecord[K, V], 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		e := element.Value.(*entry[K, V])
		if e.expired(now) {
			continue
		}
		record := snapshotRecord[K, V]{Key: e.key, Value: e.value, InsertedAt: e.insertedAt.UnixNano()}
		if !e.expiresAt.IsZero() {
			record.ExpiresAt = e.expiresAt.UnixNano()
		}
		records = append(records, record)
	}
	c.dirty.Store(false)
	c.mu.RUnlock()

	encoded, err := encMode.Marshal(records)
	if err != nil {
		c.dirty.Store(true)
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tag := compressionTag(config.GetCompression())
	payload, err := compress(encoded, tag)
	if err != nil {
		c.dirty.Store(true)
		return err
	}

	digest := blake3.Sum256(payload)
	data := make([]byte, 0, snapshotHeaderSize+len(payload))
	data = append(data, snapshotMagic[:]...)
	data = append(data, snapshotVersion, tag)
	data = append(data, digest[:]...)
	data = append(data, payload...)

	if err := writeFileAtomic(config.CacheFile, data); err != nil {
		c.dirty.Store(true)
		return err
	}

	c.logger.Debug("Cache snapshot saved",
		slog.String("path", config.CacheFile),
		slog.Int("entries", len(records)),
		slog.Int("bytes", len(data)))
	return nil
}

// Load adds the unexpired entries of the snapshot file and returns how many
// were added. A missing file is an empty snapshot; a damaged one returns an
// error wrapping ErrSnapshotCorrupt and loads nothing.
func (c *Cache[K, V]) Load() (int, error) {
	config := c.Config()
	if !config.PersistenceEnabled() {
		return 0, nil
	}
	if err := initCodecs(); err != nil {
		return 0, fmt.Errorf("initializing snapshot codecs: %w", err)
	}

	data, err := os.ReadFile(config.CacheFile) // #nosec G304 - path comes from cache config
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading snapshot %s: %w", config.CacheFile, err)
	}

	records, err := decodeSnapshot[K, V](data)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrSnapshotCorrupt, config.CacheFile, err)
	}

	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.config.Enabled {
		return 0, nil
	}

	loaded := 0
	for _, record := range records {
		var expiresAt time.Time
		if record.ExpiresAt != 0 {
			expiresAt = time.Unix(0, record.ExpiresAt)
			if !now.Before(expiresAt) {
				continue
			}
		}
		if _, exists := c.items[record.Key]; exists {
			continue
		}
		c.items[record.Key] = c.insertOrderedLocked(&entry[K, V]{
			key:        record.Key,
			value:      record.Value,
			insertedAt: time.Unix(0, record.InsertedAt),
			expiresAt:  expiresAt,
		})
		loaded++
	}

	c.enforceCapacityLocked(now)
	return loaded, nil
}

// insertOrderedLocked places e so c.order stays sorted by insertedAt, which
// capacity eviction relies on. Ties go after the existing entries.
func (c *Cache[K, V]) insertOrderedLocked(e *entry[K, V]) *list.Element {
	for element := c.order.Back(); element != nil; element = element.Prev() {
		if !element.Value.(*entry[K, V]).insertedAt.After(e.insertedAt) {
			return c.order.InsertAfter(e, element)
		}
	}
	return c.order.PushFront(e)
}

func decodeSnapshot[K comparable, V any](data []byte) ([]snapshotRecord[K, V], error) {
	if len(data) < snapshotHeaderSize {
		return nil, errors.New("file too short")
	}
	if !bytes.Equal(data[:4], snapshotMagic[:]) {
		return nil, errors.New("bad magic")
	}
	if data[4] != snapshotVersion {
		return nil, fmt.Errorf("unsupported version %d", data[4])
	}

	tag := data[5]
	payload := data[snapshotHeaderSize:]
	digest := blake3.Sum256(payload)
	if !bytes.Equal(digest[:], data[6:snapshotHeaderSize]) {
		return nil, errors.New("checksum mismatch")
	}

	encoded, err := decompress(payload, tag)
	if err != nil {
		return nil, err
	}

	var records []snapshotRecord[K, V]
	if err := decMode.Unmarshal(encoded, &records); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return records, nil
}

// writeFileAtomic writes through a temporary file so a crash never leaves
// a half-written snapshot in place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304 - path comes from cache config
	if err != nil {
		return fmt.Errorf("creating temporary snapshot: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temporary snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("syncing temporary snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temporary snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming snapshot into place: %w", err)
	}
	return nil
}
