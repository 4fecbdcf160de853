package byterange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Parallel()

	r := New(10, 20)
	assert.False(t, r.IsEntireFile())
	assert.True(t, r.IsSizeKnown())
	assert.Equal(t, uint64(10), r.Offset())
	assert.Equal(t, uint64(20), r.Size())
	assert.Equal(t, uint64(30), r.EndPoint())
}

func TestNew_ZeroSize(t *testing.T) {
	t.Parallel()

	r := New(10, 0)
	assert.Equal(t, uint64(10), r.Offset())
	assert.Equal(t, uint64(0), r.Size())
	assert.Equal(t, uint64(10), r.EndPoint())
	assert.False(t, r.IsInRange(10), "empty range contains no offsets")
	assert.False(t, r.IsInRange(9))
}

func TestNew_Overflow(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { New(MaxOffset, 1) })
	assert.NotPanics(t, func() { New(MaxOffset-1, 1) })
}

func TestEntireFile(t *testing.T) {
	t.Parallel()

	r := EntireFile()
	assert.True(t, r.IsEntireFile())
	assert.False(t, r.IsSizeKnown())
	assert.Equal(t, uint64(0), r.Offset())
	assert.True(t, r.IsInRange(0))
	assert.True(t, r.IsInRange(MaxOffset))
}

func TestEntireFileSized(t *testing.T) {
	t.Parallel()

	r := EntireFileSized(100)
	assert.True(t, r.IsEntireFile())
	assert.True(t, r.IsSizeKnown())
	assert.Equal(t, uint64(0), r.Offset())
	assert.Equal(t, uint64(100), r.Size())
	assert.Equal(t, uint64(100), r.EndPoint())
	assert.True(t, r.IsInRange(0))
	assert.True(t, r.IsInRange(99))
	assert.False(t, r.IsInRange(100))
}

func TestIsInRange(t *testing.T) {
	t.Parallel()

	r := New(10, 5)
	tests := []struct {
		off  uint64
		want bool
	}{
		{9, false},
		{10, true},
		{12, true},
		{14, true},
		{15, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.IsInRange(tt.off), "IsInRange(%d)", tt.off)
	}
}

func TestEquality(t *testing.T) {
	t.Parallel()

	assert.Equal(t, New(1, 2), New(1, 2))
	assert.True(t, New(1, 2) == New(1, 2))
	assert.False(t, New(1, 2) == New(1, 3))
	assert.False(t, New(0, 10) == EntireFileSized(10))
	assert.True(t, EntireFile() == EntireFile())
	assert.False(t, EntireFile() == EntireFileSized(0))
}

func TestContains(t *testing.T) {
	t.Parallel()

	outer := New(10, 10)
	assert.True(t, outer.Contains(New(10, 10)))
	assert.True(t, outer.Contains(New(12, 3)))
	assert.False(t, outer.Contains(New(5, 10)))
	assert.False(t, outer.Contains(EntireFile()))
	assert.True(t, EntireFile().Contains(New(1000, 5)))
}

func TestClamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Range
		size uint64
		want Range
	}{
		{"entire file", EntireFile(), 50, EntireFileSized(50)},
		{"inside", New(10, 10), 50, New(10, 10)},
		{"truncated", New(40, 20), 50, New(40, 10)},
		{"past end", New(60, 5), 50, New(50, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.in.Clamp(tt.size))
		})
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[10, 30)", New(10, 20).String())
	assert.Equal(t, "[entire file]", EntireFile().String())
	assert.Equal(t, "[entire file, 7 bytes)", EntireFileSized(7).String())
}
