package matrixstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/cascadiabits/bridgealign/affine"
)

// wire form of one record, after the variable-length key:
// five float64 matrix fields, uint64 use count, int64 unixnano timestamp.
const recordFixedSize = 5*8 + 8 + 8

func writeHeader(w io.Writer) error {
	if _, err := w.Write(magicBytes); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, compatibilityLevel)
}

func writeRecord(w io.Writer, rec *Record) error {
	key := rec.Key.String()
	if len(key) > math.MaxUint16 {
		return fmt.Errorf("key too long: %d bytes", len(key))
	}
	buf := make([]byte, 0, 2+len(key)+recordFixedSize)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(key)))
	buf = append(buf, key...)
	for _, f := range [5]float64{
		rec.Matrix.LatOffset,
		rec.Matrix.LonOffset,
		rec.Matrix.LatScale,
		rec.Matrix.LonScale,
		rec.Matrix.RotationDegrees,
	} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	}
	buf = binary.LittleEndian.AppendUint64(buf, rec.UseCount)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.LastUsedAt.UnixNano()))
	_, err := w.Write(buf)
	return err
}

// readRecord returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF (or a parse error) for a damaged tail.
func readRecord(r io.Reader) (*Record, int64, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, io.ErrUnexpectedEOF
	}
	keyLen := binary.LittleEndian.Uint16(lenBuf[:])

	body := make([]byte, int(keyLen)+recordFixedSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}

	key, err := affine.ParseMatrixKey(string(body[:keyLen]))
	if err != nil {
		return nil, 0, err
	}

	fields := body[keyLen:]
	readF64 := func(i int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(fields[i*8:]))
	}
	rec := &Record{
		Key: key,
		Matrix: affine.TransformationMatrix{
			LatOffset:       readF64(0),
			LonOffset:       readF64(1),
			LatScale:        readF64(2),
			LonScale:        readF64(3),
			RotationDegrees: readF64(4),
		},
		UseCount:   binary.LittleEndian.Uint64(fields[40:]),
		LastUsedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(fields[48:]))),
	}
	return rec, int64(2 + int(keyLen) + recordFixedSize), nil
}
