package crdt

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

const snapshotVersion = 1

// snapshot is the stored form of a document: its change log. Loading replays
// the log, so a snapshot merges like any other set of changes.
type snapshot struct {
	Version int       `cbor:"version"`
	Changes []*Change `cbor:"changes"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("crdt: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("crdt: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("crdt: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("crdt: zstd decoder initialization failed: " + err.Error())
	}
}

// Save encodes the whole document.
func (d *Doc) Save() ([]byte, error) {
	data, err := encMode.Marshal(snapshot{Version: snapshotVersion, Changes: d.log})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return zstdEncoder.EncodeAll(data, nil), nil
}

// Load decodes a snapshot produced by Save into a new document authored by
// actor.
func Load(data []byte, actor string) (*Doc, error) {
	d := New(actor)
	if _, err := d.Load(data); err != nil {
		return nil, err
	}
	return d, nil
}

// Load merges a snapshot into d and returns the visible effect.
func (d *Doc) Load(data []byte) ([]Patch, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	var s snapshot
	if err := decMode.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d not supported", s.Version)
	}
	return d.Apply(s.Changes...)
}

// EncodeChange encodes a single change the way snapshots store them.
func EncodeChange(c *Change) ([]byte, error) {
	return encMode.Marshal(c)
}

func DecodeChange(data []byte) (*Change, error) {
	var c Change
	if err := decMode.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode change: %w", err)
	}
	return &c, nil
}
