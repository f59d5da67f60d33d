package engine

import (
	"bytes"
	"encoding/binary"
	"runtime/debug"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"

	"github.com/wippyai/js-runtime/errors"
)

const (
	snapshotMagic  = "SNJS"
	snapshotFormat = uint16(1)
	enginePath     = "github.com/grafana/sobek"
)

// Entry is one startup script captured while producing a snapshot.
type Entry struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Journal records the scripts that built a producer's global context, in
// execution order. Replaying it into a fresh isolate reproduces that context.
type Journal struct {
	entries []Entry
}

// Record appends a script that ran successfully.
func (j *Journal) Record(name, src string) {
	j.entries = append(j.entries, Entry{Name: name, Source: src})
}

// Entries returns the recorded scripts.
func (j *Journal) Entries() []Entry {
	return j.entries
}

// Reset drops all recorded scripts.
func (j *Journal) Reset() {
	j.entries = nil
}

var engineVersion = sync.OnceValue(func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path == enginePath {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return "devel"
})

// EngineVersion identifies the engine build a snapshot was produced with.
func EngineVersion() string {
	return engineVersion()
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// EncodeSnapshot serializes a journal into an opaque startup blob tagged with
// the current engine version.
//
// Layout: magic | u16 format | u16 version length | version | zstd(json entries).
func EncodeSnapshot(j *Journal) ([]byte, error) {
	payload, err := sonic.Marshal(j.Entries())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseSnapshot, errors.KindInvalidData, err, "encode snapshot entries")
	}

	version := EngineVersion()
	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	_ = binary.Write(&buf, binary.LittleEndian, snapshotFormat)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(version)))
	buf.WriteString(version)
	buf.Write(zstdEncoder().EncodeAll(payload, nil))
	return buf.Bytes(), nil
}

// DecodeSnapshot parses a blob produced by EncodeSnapshot. Blobs from another
// format or engine version are rejected.
func DecodeSnapshot(blob []byte) (*Journal, error) {
	const fixed = len(snapshotMagic) + 4
	if len(blob) < fixed || string(blob[:len(snapshotMagic)]) != snapshotMagic {
		return nil, errors.InvalidData(errors.PhaseSnapshot, "not a snapshot blob")
	}
	rest := blob[len(snapshotMagic):]
	format := binary.LittleEndian.Uint16(rest[0:2])
	if format != snapshotFormat {
		return nil, errors.New(errors.PhaseSnapshot, errors.KindVersionMismatch).
			Detail("snapshot format %d, want %d", format, snapshotFormat).
			Build()
	}
	vlen := int(binary.LittleEndian.Uint16(rest[2:4]))
	rest = rest[4:]
	if len(rest) < vlen {
		return nil, errors.InvalidData(errors.PhaseSnapshot, "truncated snapshot header")
	}
	if got, want := string(rest[:vlen]), EngineVersion(); got != want {
		return nil, errors.New(errors.PhaseSnapshot, errors.KindVersionMismatch).
			Detail("snapshot built with engine %s, running %s", got, want).
			Build()
	}

	payload, err := zstdDecoder().DecodeAll(rest[vlen:], nil)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseSnapshot, errors.KindInvalidData, err, "decompress snapshot")
	}
	var entries []Entry
	if err := sonic.Unmarshal(payload, &entries); err != nil {
		return nil, errors.Wrap(errors.PhaseSnapshot, errors.KindInvalidData, err, "decode snapshot entries")
	}
	return &Journal{entries: entries}, nil
}
