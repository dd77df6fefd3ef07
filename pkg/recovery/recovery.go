// Package recovery implements C5: scanning both WAL files on startup,
// reconciling their record sets per sequence, and computing the recovery
// state (highest durable sequence, resumed write offset) the orchestrator
// adopts before any append. It is grounded on the reconciliation shape of
// KevoDB's pkg/memtable/recovery.go (replay a log into a recovered state,
// bounded by a maximum sequence) generalized from a single WAL file to two.
package recovery

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/ringwal/ringwal/pkg/record"
)

// ScannedRecord is one record recovered from a file scan: its sequence and
// an owned copy of its payload (not a borrow into a shared buffer, unlike
// record.Record, since scan results outlive the read).
type ScannedRecord struct {
	Sequence uint64
	Payload  []byte
}

// ScanFile opens path and scans it from offset 0. A missing file scans as
// empty, not an error — a fresh secondary path before its first append is
// exactly this case.
func ScanFile(path string) ([]ScannedRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return Scan(f)
}

// Scan reads sequentially from r, decoding one record per iteration and
// stopping at the first sign of end-of-log: a short header read, a bad
// magic, a zero sequence, a short payload read, or a checksum mismatch.
// None of these are reported as errors — spec.md §4.5 treats a torn suffix
// as indistinguishable from an unwritten tail, so the log is assumed
// contiguous and scanning never continues past the first invalid record.
func Scan(r io.Reader) ([]ScannedRecord, error) {
	var out []ScannedRecord
	header := make([]byte, record.HeaderSize)

	for {
		if _, err := io.ReadFull(r, header); err != nil {
			break
		}

		magic := binary.LittleEndian.Uint32(header[0:4])
		if magic != record.Magic {
			break
		}

		sequence := binary.LittleEndian.Uint64(header[4:12])
		if sequence == 0 {
			break
		}

		length := binary.LittleEndian.Uint32(header[12:16])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}

		full := make([]byte, record.HeaderSize+int(length))
		copy(full, header)
		copy(full[record.HeaderSize:], payload)

		rec, err := record.Decode(full)
		if err != nil {
			break
		}
		if !rec.VerifyChecksum() {
			break
		}

		out = append(out, ScannedRecord{Sequence: rec.Sequence, Payload: payload})

		padded := record.PaddedSize(int(length))
		padding := padded - (record.HeaderSize + int(length))
		if padding > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(padding)); err != nil {
				break
			}
		}
	}

	return out, nil
}

// State is the recovery outcome C4 adopts: the highest contiguous sequence
// recovered, the write offset a fresh append should resume from, and how
// many records were recovered.
type State struct {
	HighestSequence  uint64
	NextWriteOffset  int64
	ValidRecordCount int
}

func toMap(list []ScannedRecord) map[uint64]ScannedRecord {
	m := make(map[uint64]ScannedRecord, len(list))
	for _, r := range list {
		m[r.Sequence] = r
	}
	return m
}

// Reconcile builds the recovery state from two independently-scanned record
// lists. highest_sequence is the largest sequence for which a record exists
// in at least one list AND every sequence from 1 up to it is present in at
// least one list — the first gap truncates the log (spec.md §3,
// contiguity requirement). next_write_offset sums the padded size of the
// winning record (primary when present, else secondary) for every sequence
// from 1 through highest_sequence.
func Reconcile(primary, secondary []ScannedRecord) State {
	primaryMap := toMap(primary)
	secondaryMap := toMap(secondary)

	var unionMax uint64
	for seq := range primaryMap {
		if seq > unionMax {
			unionMax = seq
		}
	}
	for seq := range secondaryMap {
		if seq > unionMax {
			unionMax = seq
		}
	}

	highest := unionMax
	for seq := uint64(1); seq <= unionMax; seq++ {
		_, inPrimary := primaryMap[seq]
		_, inSecondary := secondaryMap[seq]
		if !inPrimary && !inSecondary {
			highest = seq - 1
			break
		}
	}

	var nextOffset int64
	for seq := uint64(1); seq <= highest; seq++ {
		rec, ok := primaryMap[seq]
		if !ok {
			rec = secondaryMap[seq]
		}
		nextOffset += int64(record.PaddedSize(len(rec.Payload)))
	}

	return State{
		HighestSequence:  highest,
		NextWriteOffset:  nextOffset,
		ValidRecordCount: int(highest),
	}
}

// Recovery bundles the reconciled state together with both files' scanned
// record sets, so Replay can resolve each sequence to its winning copy
// without rescanning.
type Recovery struct {
	State     State
	Primary   []ScannedRecord
	Secondary []ScannedRecord
}

// Recover scans both paths and reconciles them into a Recovery.
func Recover(primaryPath, secondaryPath string) (Recovery, error) {
	primary, err := ScanFile(primaryPath)
	if err != nil {
		return Recovery{}, err
	}
	secondary, err := ScanFile(secondaryPath)
	if err != nil {
		return Recovery{}, err
	}
	return Recovery{
		State:     Reconcile(primary, secondary),
		Primary:   primary,
		Secondary: secondary,
	}, nil
}

// Replay surfaces every reconciled record in strict ascending sequence
// order to callback. It stops and returns callback's error immediately,
// propagating it to the caller per spec.md §7.
func (rv Recovery) Replay(callback func(sequence uint64, payload []byte) error) error {
	primaryMap := toMap(rv.Primary)
	secondaryMap := toMap(rv.Secondary)

	for seq := uint64(1); seq <= rv.State.HighestSequence; seq++ {
		rec, ok := primaryMap[seq]
		if !ok {
			rec = secondaryMap[seq]
		}
		if err := callback(seq, rec.Payload); err != nil {
			return err
		}
	}
	return nil
}
