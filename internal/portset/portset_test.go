package portset

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Canonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
		size int
	}{
		{"6,5,4,3,2,50-60", "2-6,50-60", 16},
		{"6,5,4445,4,3,2,50-60,666,69,55,65534,65535", "2-6,50-60,69,666,4445,65534-65535", 21},
		{"80", "80", 1},
		{"80,81", "80-81", 2},
		{"1-65535", "1-65535", 65535},
		{"443, 22 ,80", "22,80,443", 3},
		{"10-10", "10", 1},
		{"1,3,5", "1,3,5", 3},
		{"5-7,6-9", "5-9", 5},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ps, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ps.String())
			assert.Equal(t, tt.size, ps.Size())
		})
	}
}

func TestParse_RepeatedFullRange(t *testing.T) {
	spec := strings.TrimSuffix(strings.Repeat("1-65535,", 200), ",")
	ps, err := Parse(spec)
	require.NoError(t, err)
	assert.Equal(t, MaxPort, ps.Size())
	assert.Equal(t, "1-65535", ps.String())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"1-10,abc,20,30", ErrSyntax},
		{"1-10,65536", ErrRange},
		{"0", ErrRange},
		{"0-5", ErrRange},
		{"99999999999999999999", ErrRange},
		{"", ErrSyntax},
		{"  ", ErrSyntax},
		{"1,,2", ErrSyntax},
		{"-", ErrSyntax},
		{"5-", ErrSyntax},
		{"-5", ErrSyntax},
		{"1--5", ErrSyntax},
		{"1-2-3", ErrSyntax},
		{"9-3", ErrSyntax},
		{"1 - 5", ErrSyntax},
		{"22;80", ErrSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := Parse(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "want *ValidationError, got %T", err)
		})
	}
}

func TestNew(t *testing.T) {
	ps, err := New([]int{443, 22, 80, 22, 81})
	require.NoError(t, err)
	assert.Equal(t, []int{22, 80, 81, 443}, ps.Ports())
	assert.Equal(t, "22,80-81,443", ps.String())

	_, err = New([]int{1, 65536})
	assert.ErrorIs(t, err, ErrRange)

	_, err = New([]int{-3})
	assert.ErrorIs(t, err, ErrRange)

	empty, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Size())
	assert.Equal(t, "", empty.String())
}

func TestNilPortSet(t *testing.T) {
	var ps *PortSet
	assert.Equal(t, 0, ps.Size())
	assert.Equal(t, "", ps.String())
	assert.Nil(t, ps.Ports())
	assert.False(t, ps.Contains(80))
}

func TestContains(t *testing.T) {
	ps := MustParse("20-25,80")
	assert.True(t, ps.Contains(20))
	assert.True(t, ps.Contains(25))
	assert.True(t, ps.Contains(80))
	assert.False(t, ps.Contains(26))
	assert.False(t, ps.Contains(1))
}

func TestPorts_IsCopy(t *testing.T) {
	ps := MustParse("1-3")
	got := ps.Ports()
	got[0] = 999
	assert.Equal(t, []int{1, 2, 3}, ps.Ports())
}

// TestRoundTrip checks that the canonical form is a fixed point of
// Parse for random sorted, duplicate-free inputs.
func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		n := rng.Intn(64) + 1
		ports := make([]int, 0, n)
		p := rng.Intn(100) + 1
		for j := 0; j < n && p <= MaxPort; j++ {
			ports = append(ports, p)
			p += rng.Intn(3) + 1 // gaps of 0-2 produce both runs and singles
		}

		ps, err := New(ports)
		require.NoError(t, err)
		assert.Equal(t, len(ports), ps.Size())

		canonical := ps.String()
		again, err := Parse(canonical)
		require.NoError(t, err, "canonical %q", canonical)
		assert.Equal(t, canonical, again.String())
		assert.Equal(t, ports, again.Ports())
	}
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
}
