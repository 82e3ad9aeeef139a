package engine

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/revgo/internal/hash"
	"github.com/hupe1980/revgo/model"
)

// Journal op codes. Every committed mutation of the version state is
// appended before it becomes visible in memory.
const (
	journalOpStore   = uint8(1) // new full version record
	journalOpCompact = uint8(2) // record replaced by its delta form
	journalOpDelete  = uint8(3) // record removed, version tombstoned
)

// journalEntry is the replayable unit of the journal.
type journalEntry struct {
	Op      uint8                `json:"op"`
	Record  *model.VersionRecord `json:"record,omitempty"`
	Doc     model.DocumentID     `json:"doc,omitempty"`
	Version model.VersionNumber  `json:"version,omitempty"`
}

// journalHeaderSize is op(1) + payload length(4) + CRC32C(4).
const journalHeaderSize = 9

// Journal is an append-only log of version-state mutations. Entries are
// individually zstd-compressed and CRC32C-framed; replay stops at the
// first torn or corrupt frame, which is only expected at the tail after a
// crash.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	size     int64
	syncEach bool

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// OpenJournal opens or creates the journal file. With syncEach set every
// append is fsynced before returning, trading throughput for durability.
func OpenJournal(path string, syncEach bool) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat journal: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	return &Journal{
		file:     file,
		path:     path,
		size:     st.Size(),
		syncEach: syncEach,
		enc:      enc,
		dec:      dec,
	}, nil
}

// Append writes one entry. The entry is durable (modulo syncEach) before
// the caller may expose the mutation.
func (j *Journal) Append(e *journalEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	compressed := j.enc.EncodeAll(payload, nil)

	frame := make([]byte, 0, journalHeaderSize+len(compressed))
	frame = append(frame, e.Op)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(compressed)))
	frame = binary.LittleEndian.AppendUint32(frame, hash.CRC32C(compressed))
	frame = append(frame, compressed...)

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(frame); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	j.size += int64(len(frame))

	if j.syncEach {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("sync journal: %w", err)
		}
	}
	return nil
}

// Replay streams all intact entries from the start of the journal. A torn
// or corrupt tail frame ends the replay without error; the next checkpoint
// truncates it away.
func (j *Journal) Replay(fn func(*journalEntry) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	raw, err := os.ReadFile(j.path)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	for len(raw) > 0 {
		if len(raw) < journalHeaderSize {
			return nil // torn tail
		}
		payloadLen := int(binary.LittleEndian.Uint32(raw[1:5]))
		crc := binary.LittleEndian.Uint32(raw[5:9])
		if len(raw) < journalHeaderSize+payloadLen {
			return nil // torn tail
		}

		compressed := raw[journalHeaderSize : journalHeaderSize+payloadLen]
		if hash.CRC32C(compressed) != crc {
			return nil // corrupt tail
		}

		payload, err := j.dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil
		}

		var e journalEntry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil
		}
		if e.Op != raw[0] {
			return nil
		}

		if err := fn(&e); err != nil {
			return err
		}
		raw = raw[journalHeaderSize+payloadLen:]
	}
	return nil
}

// Size returns the current journal size in bytes.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// Truncate discards all entries. Called after a successful checkpoint.
func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	// O_APPEND writes continue at the new end; reset the tracked size.
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	j.size = 0
	return j.file.Sync()
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Sync()
	if cerr := j.file.Close(); err == nil {
		err = cerr
	}
	j.file = nil
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
