// Package matrix owns the dense square matrix container used on both
// ends of a transfer: allocation, element access, and console render.
package matrix

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrIndexOutOfRange = errors.New("matrix: index out of range")

// Matrix is an owned n x n buffer of signed integers in row-major
// order (index = row*n + col).
type Matrix struct {
	dimension int
	data      []int32
}

// NewZero allocates a zero-filled n x n matrix.
func NewZero(n int) *Matrix {
	return &Matrix{
		dimension: n,
		data:      make([]int32, n*n),
	}
}

// NewSequential allocates an n x n matrix filled with row*n+col.
func NewSequential(n int) *Matrix {
	m := NewZero(n)
	for i := range m.data {
		m.data[i] = int32(i)
	}
	return m
}

// Dimension returns n.
func (m *Matrix) Dimension() int {
	return m.dimension
}

// Data exposes the backing row-major slice for descriptor application.
// The matrix retains ownership.
func (m *Matrix) Data() []int32 {
	return m.data
}

// At returns the element at (row, col).
func (m *Matrix) At(row, col int) (int32, error) {
	if err := m.check(row, col); err != nil {
		return 0, err
	}
	return m.data[row*m.dimension+col], nil
}

// Set writes the element at (row, col).
func (m *Matrix) Set(row, col int, v int32) error {
	if err := m.check(row, col); err != nil {
		return err
	}
	m.data[row*m.dimension+col] = v
	return nil
}

func (m *Matrix) check(row, col int) error {
	if row < 0 || row >= m.dimension || col < 0 || col >= m.dimension {
		return fmt.Errorf("%w: (%d,%d) dimension=%d", ErrIndexOutOfRange, row, col, m.dimension)
	}
	return nil
}

// Render writes the matrix as n rows of space-padded 3-character
// fields, each row newline-terminated, with a trailing blank line.
func (m *Matrix) Render(w io.Writer) error {
	for r := 0; r < m.dimension; r++ {
		for c := 0; c < m.dimension; c++ {
			if _, err := fmt.Fprintf(w, "%3d ", m.data[r*m.dimension+c]); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// String renders the matrix to a string, for logs and tests.
func (m *Matrix) String() string {
	var b strings.Builder
	_ = m.Render(&b)
	return b.String()
}
