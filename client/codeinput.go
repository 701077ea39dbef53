package client

import "strings"

// CodeInput holds n single-digit cells and the focused cell index.
type CodeInput struct {
	cells []byte
	focus int
}

func NewCodeInput(n int) *CodeInput {
	if n <= 0 {
		n = 6
	}
	return &CodeInput{cells: make([]byte, n)}
}

func (in *CodeInput) Len() int { return len(in.cells) }

func (in *CodeInput) Focus() int { return in.focus }

// Cells returns the cell contents; empty cells are "".
func (in *CodeInput) Cells() []string {
	out := make([]string, len(in.cells))
	for i, c := range in.cells {
		if c != 0 {
			out[i] = string(c)
		}
	}
	return out
}

// Type writes a digit into the focused cell and moves focus to the next empty
// cell to the right, or one cell right when none is empty. Other characters
// are ignored.
func (in *CodeInput) Type(r rune) {
	if r < '0' || r > '9' {
		return
	}
	in.cells[in.focus] = byte(r)
	for i := in.focus + 1; i < len(in.cells); i++ {
		if in.cells[i] == 0 {
			in.focus = i
			return
		}
	}
	in.focus = min(in.focus+1, len(in.cells)-1)
}

// Backspace clears the focused cell, or moves focus left when it is already
// empty.
func (in *CodeInput) Backspace() {
	if in.cells[in.focus] != 0 {
		in.cells[in.focus] = 0
		return
	}
	if in.focus > 0 {
		in.focus--
	}
}

func (in *CodeInput) Left() {
	if in.focus > 0 {
		in.focus--
	}
}

func (in *CodeInput) Right() {
	if in.focus < len(in.cells)-1 {
		in.focus++
	}
}

// SetFocus moves focus to cell i, clamped to the valid range.
func (in *CodeInput) SetFocus(i int) {
	in.focus = max(0, min(i, len(in.cells)-1))
}

// Paste replaces the content with the digits of s, filled from the first
// cell. Non-digits are dropped and extra digits ignored. Focus goes to the
// first empty cell, or the last cell when all are filled.
func (in *CodeInput) Paste(s string) {
	in.Clear()
	i := 0
	for _, r := range s {
		if i == len(in.cells) {
			break
		}
		if r >= '0' && r <= '9' {
			in.cells[i] = byte(r)
			i++
		}
	}
	in.focus = min(i, len(in.cells)-1)
}

func (in *CodeInput) Clear() {
	for i := range in.cells {
		in.cells[i] = 0
	}
	in.focus = 0
}

// Complete reports whether every cell holds a digit.
func (in *CodeInput) Complete() bool {
	for _, c := range in.cells {
		if c == 0 {
			return false
		}
	}
	return true
}

// Value returns the digits typed so far, skipping empty cells.
func (in *CodeInput) Value() string {
	var b strings.Builder
	for _, c := range in.cells {
		if c != 0 {
			b.WriteByte(c)
		}
	}
	return b.String()
}
