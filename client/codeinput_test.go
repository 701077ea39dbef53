package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCodeInputTypingAdvancesFocus(t *testing.T) {
	in := NewCodeInput(6)
	for _, r := range "123" {
		in.Type(r)
	}
	assert.Equal(t, []string{"1", "2", "3", "", "", ""}, in.Cells())
	assert.Equal(t, 3, in.Focus())

	in.Type('x')
	assert.Equal(t, "123", in.Value(), "non-digits are ignored")

	// Correcting a middle cell jumps to the next empty cell.
	in.SetFocus(0)
	in.Type('9')
	assert.Equal(t, 3, in.Focus())
	assert.Equal(t, "923", in.Value())
}

func TestCodeInputLastCellKeepsFocus(t *testing.T) {
	in := NewCodeInput(4)
	for _, r := range "4821" {
		in.Type(r)
	}
	assert.True(t, in.Complete())
	assert.Equal(t, 3, in.Focus())

	in.Type('7')
	assert.Equal(t, "4827", in.Value())
	assert.Equal(t, 3, in.Focus())
}

func TestCodeInputBackspace(t *testing.T) {
	in := NewCodeInput(6)
	in.Type('1')
	in.Type('2')
	assert.Equal(t, 2, in.Focus())

	// Focused cell is empty: retreat without clearing.
	in.Backspace()
	assert.Equal(t, 1, in.Focus())
	assert.Equal(t, "12", in.Value())

	in.Backspace()
	assert.Equal(t, "1", in.Value())
	assert.Equal(t, 1, in.Focus())

	in.Backspace()
	in.Backspace()
	assert.Equal(t, "", in.Value())
	assert.Equal(t, 0, in.Focus())

	in.Backspace()
	assert.Equal(t, 0, in.Focus())
}

func TestCodeInputArrowsDoNotMutate(t *testing.T) {
	in := NewCodeInput(6)
	in.Paste("123456")
	before := in.Cells()

	in.Left()
	in.Left()
	assert.Equal(t, 3, in.Focus())
	in.Right()
	assert.Equal(t, 4, in.Focus())
	for i := 0; i < 10; i++ {
		in.Right()
	}
	assert.Equal(t, 5, in.Focus())
	for i := 0; i < 10; i++ {
		in.Left()
	}
	assert.Equal(t, 0, in.Focus())
	assert.Equal(t, before, in.Cells())
}

func TestCodeInputPaste(t *testing.T) {
	tests := []struct {
		name  string
		paste string
		value string
		focus int
		full  bool
	}{
		{"exact", "482913", "482913", 5, true},
		{"with separators", "482-913", "482913", 5, true},
		{"too long", "4829137777", "482913", 5, true},
		{"short", "48", "48", 2, false},
		{"nothing usable", "abc", "", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := NewCodeInput(6)
			in.SetFocus(4)
			in.Type('9')
			in.Paste(tc.paste)
			assert.Equal(t, tc.value, in.Value())
			assert.Equal(t, tc.focus, in.Focus())
			assert.Equal(t, tc.full, in.Complete())
		})
	}
}

func TestCooldownRecomputedFromDeadline(t *testing.T) {
	clock := newFakeClock()
	cd := StartCooldown(clock.Now(), 30)
	assert.Equal(t, 30, cd.Remaining)

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 29, cd.At(clock.Now()).Remaining)

	// A suspended process catches up in one tick.
	clock.Advance(25 * time.Second)
	assert.Equal(t, 4, cd.At(clock.Now()).Remaining)

	clock.Advance(10 * time.Second)
	cd = cd.At(clock.Now())
	assert.Equal(t, 0, cd.Remaining)
	assert.True(t, cd.Ready())

	assert.True(t, StartCooldown(clock.Now(), -3).Ready())
}
