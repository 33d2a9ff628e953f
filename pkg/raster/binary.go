package raster

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"

	"phasetiler/pkg/errs"
)

// DType is the on-disk sample type of a flat binary raster.
type DType int

const (
	Float32 DType = iota
	Float64
)

// Size returns the number of bytes per sample.
func (d DType) Size() int {
	if d == Float64 {
		return 8
	}
	return 4
}

func (d DType) String() string {
	if d == Float64 {
		return "float64"
	}
	return "float32"
}

// ParseDType parses "float32" or "float64" (also "f4"/"f8").
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(s) {
	case "float32", "f4", "":
		return Float32, nil
	case "float64", "f8":
		return Float64, nil
	default:
		return Float32, errs.Configf("dtype", "unsupported sample type %q", s)
	}
}

// BinaryRaster is a raster stored as a header-less flat file of little-endian
// samples in row-major order. Blocks are read and written row by row with
// ReadAt/WriteAt, so only the requested block is ever resident and writes to
// disjoint blocks are safe from concurrent goroutines.
type BinaryRaster struct {
	file  *os.File
	path  string
	rows  int
	cols  int
	dtype DType
}

// CreateBinary creates (or truncates) a zero-filled binary raster on disk.
func CreateBinary(path string, rows, cols int, dtype DType) (*BinaryRaster, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errs.Configf("raster", "non-positive shape %dx%d", rows, cols)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating raster file: %w", err)
	}
	if err := f.Truncate(int64(rows) * int64(cols) * int64(dtype.Size())); err != nil {
		f.Close()
		return nil, fmt.Errorf("error sizing raster file: %w", err)
	}
	return &BinaryRaster{file: f, path: path, rows: rows, cols: cols, dtype: dtype}, nil
}

// OpenBinary opens an existing binary raster. The file size must match the
// declared shape and sample type exactly.
func OpenBinary(path string, rows, cols int, dtype DType, writable bool) (*BinaryRaster, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errs.Configf("raster", "non-positive shape %dx%d", rows, cols)
	}
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("error opening raster file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error reading raster file info: %w", err)
	}
	want := int64(rows) * int64(cols) * int64(dtype.Size())
	if info.Size() != want {
		f.Close()
		return nil, errs.Configf("raster", "%s holds %d bytes, %dx%d %s needs %d",
			path, info.Size(), rows, cols, dtype, want)
	}
	return &BinaryRaster{file: f, path: path, rows: rows, cols: cols, dtype: dtype}, nil
}

// Shape returns the raster dimensions.
func (b *BinaryRaster) Shape() (int, int) {
	return b.rows, b.cols
}

// Path returns the backing file path.
func (b *BinaryRaster) Path() string {
	return b.path
}

// Close closes the backing file.
func (b *BinaryRaster) Close() error {
	return b.file.Close()
}

func (b *BinaryRaster) offset(row, col int) int64 {
	return (int64(row)*int64(b.cols) + int64(col)) * int64(b.dtype.Size())
}

// ReadBlock reads the requested block from disk.
func (b *BinaryRaster) ReadBlock(rows, cols Range) (*mat.Dense, error) {
	if err := CheckBounds("read block", b.rows, b.cols, rows, cols); err != nil {
		return nil, err
	}
	n := cols.Len()
	size := b.dtype.Size()
	buf := make([]byte, n*size)
	out := mat.NewDense(rows.Len(), n, nil)
	for i := rows.Start; i < rows.Stop; i++ {
		if _, err := b.file.ReadAt(buf, b.offset(i, cols.Start)); err != nil {
			return nil, fmt.Errorf("error reading row %d of %s: %w", i, b.path, err)
		}
		row := out.RawRowView(i - rows.Start)
		for j := range row {
			if b.dtype == Float64 {
				row[j] = math.Float64frombits(binary.LittleEndian.Uint64(buf[j*8:]))
			} else {
				row[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:])))
			}
		}
	}
	return out, nil
}

// WriteBlock writes m to disk at the requested block.
func (b *BinaryRaster) WriteBlock(rows, cols Range, m mat.Matrix) error {
	if err := checkBlock("write block", b.rows, b.cols, rows, cols, m); err != nil {
		return err
	}
	n := cols.Len()
	size := b.dtype.Size()
	buf := make([]byte, n*size)
	for i := 0; i < rows.Len(); i++ {
		for j := 0; j < n; j++ {
			v := m.At(i, j)
			if b.dtype == Float64 {
				binary.LittleEndian.PutUint64(buf[j*8:], math.Float64bits(v))
			} else {
				binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(float32(v)))
			}
		}
		if _, err := b.file.WriteAt(buf, b.offset(rows.Start+i, cols.Start)); err != nil {
			return fmt.Errorf("error writing row %d of %s: %w", rows.Start+i, b.path, err)
		}
	}
	return nil
}

// WriteFile writes a whole in-memory matrix as a flat binary raster.
func WriteFile(path string, m mat.Matrix, dtype DType) error {
	r, c := m.Dims()
	out, err := CreateBinary(path, r, c, dtype)
	if err != nil {
		return err
	}
	if err := out.WriteBlock(Range{Start: 0, Stop: r}, Range{Start: 0, Stop: c}, m); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
