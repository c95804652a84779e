package musicgen

import "fmt"

// Grid is the delay-pattern token grid: 2*C rows (conditional rows 0..C-1,
// unconditional rows C..2C-1) by maxLength timesteps. Column 0 holds BOS and
// every other cell starts as PAD. Cells are written at most once, and only
// where the row's codebook is active, so inactive cells stay PAD.
type Grid struct {
	codebooks int
	length    int
	pad       int64
	tokens    []int64
	written   []bool
}

// IsActive reports whether codebook k generates at timestep t. Codebook k is
// delayed by k steps behind the BOS column.
func IsActive(codebook, timestep int) bool {
	return timestep > codebook
}

// NewGrid allocates a grid filled with pad and sets column 0 to bos.
func NewGrid(numCodebooks, maxLength int, pad, bos int64) (*Grid, error) {
	if numCodebooks < 1 {
		return nil, fmt.Errorf("%w: num codebooks %d", ErrShape, numCodebooks)
	}

	if maxLength < 1 {
		return nil, fmt.Errorf("%w: max length %d", ErrShape, maxLength)
	}

	rows := 2 * numCodebooks
	g := &Grid{
		codebooks: numCodebooks,
		length:    maxLength,
		pad:       pad,
		tokens:    make([]int64, rows*maxLength),
		written:   make([]bool, rows*maxLength),
	}

	for i := range g.tokens {
		g.tokens[i] = pad
	}

	for r := range rows {
		g.tokens[r*maxLength] = bos
		g.written[r*maxLength] = true
	}

	return g, nil
}

// Rows returns 2*C.
func (g *Grid) Rows() int { return 2 * g.codebooks }

// Len returns the number of timesteps.
func (g *Grid) Len() int { return g.length }

// Codebooks returns C.
func (g *Grid) Codebooks() int { return g.codebooks }

// At returns the token at (row, t).
func (g *Grid) At(row, t int) int64 {
	return g.tokens[row*g.length+t]
}

// Write stores token at (row, t) if the row's codebook is active there.
// Writing an inactive cell is a no-op. Writing a cell twice is an error.
func (g *Grid) Write(row, t int, token int64) error {
	if row < 0 || row >= g.Rows() || t < 0 || t >= g.length {
		return fmt.Errorf("%w: cell (%d, %d) outside %dx%d grid", ErrShape, row, t, g.Rows(), g.length)
	}

	if !IsActive(row%g.codebooks, t) {
		return nil
	}

	i := row*g.length + t
	if g.written[i] {
		return fmt.Errorf("%w: cell (%d, %d) already written", ErrShape, row, t)
	}

	g.tokens[i] = token
	g.written[i] = true

	return nil
}

// WriteMirrored writes token for codebook cb into both the conditional and
// unconditional rows at t.
func (g *Grid) WriteMirrored(cb, t int, token int64) error {
	if err := g.Write(cb, t, token); err != nil {
		return err
	}

	return g.Write(cb+g.codebooks, t, token)
}

// Column returns a copy of column t for every row, in row order. It is the
// decoder's next input_ids.
func (g *Grid) Column(t int) []int64 {
	col := make([]int64, g.Rows())
	for r := range col {
		col[r] = g.At(r, t)
	}

	return col
}

// Aligned is the undelayed token sequence: Codebooks rows of Length tokens,
// row-major.
type Aligned struct {
	Codebooks int
	Length    int
	Tokens    []int64
}

// At returns the token for codebook cb at aligned timestep t.
func (a *Aligned) At(cb, t int) int64 {
	return a.Tokens[cb*a.Length+t]
}

// AlignedLength returns the number of timesteps left after removing the
// BOS column and the per-codebook delay.
func AlignedLength(maxLength, numCodebooks int) int {
	return maxLength - 1 - (numCodebooks - 1)
}

// Undelay shifts each conditional row left by its delay:
// aligned[cb][t] = grid[cb][1+cb+t]. Residual PAD becomes silence.
func (g *Grid) Undelay(silence int64) (*Aligned, error) {
	n := AlignedLength(g.length, g.codebooks)
	if n < 1 {
		return nil, fmt.Errorf("%w: %d timesteps leave no aligned frames for %d codebooks", ErrShape, g.length, g.codebooks)
	}

	a := &Aligned{
		Codebooks: g.codebooks,
		Length:    n,
		Tokens:    make([]int64, g.codebooks*n),
	}

	for cb := range g.codebooks {
		for t := range n {
			v := g.At(cb, 1+cb+t)
			if v == g.pad {
				v = silence
			}
			a.Tokens[cb*n+t] = v
		}
	}

	return a, nil
}
