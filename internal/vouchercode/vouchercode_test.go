package vouchercode

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^2023[A-Z]{4}[1-9][0-9]$`)

func fixedGenerator() *Generator {
	g := NewGenerator()
	g.Now = func() time.Time { return time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC) }
	return g
}

func TestCode_Format(t *testing.T) {
	g := fixedGenerator()
	for i := 0; i < 200; i++ {
		code, err := g.Code()
		require.NoError(t, err)
		assert.Regexp(t, codePattern, code)
		assert.Len(t, code, 10)
	}
}

func TestCodes_DistinctWithinBatch(t *testing.T) {
	codes, err := fixedGenerator().Codes(500)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, c := range codes {
		assert.False(t, seen[c], "duplicate %s", c)
		seen[c] = true
	}
}

func TestUnique_RetriesRejectedCodes(t *testing.T) {
	g := fixedGenerator()
	stored := map[string]bool{}
	calls := 0

	n, err := g.Unique(context.Background(), 10, func(ctx context.Context, codes []string) ([]string, error) {
		calls++
		var rejected []string
		for i, c := range codes {
			// first round rejects the first three codes as if they already existed
			if calls == 1 && i < 3 {
				rejected = append(rejected, c)
				continue
			}
			stored[c] = true
		}
		return rejected, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 2, calls)
	assert.Len(t, stored, 10)
}

func TestUnique_GivesUp(t *testing.T) {
	g := fixedGenerator()
	g.MaxAttempts = 3

	n, err := g.Unique(context.Background(), 4, func(ctx context.Context, codes []string) ([]string, error) {
		return codes[:1], nil
	})

	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.Equal(t, 3, n)
}

func TestUnique_PropagatesInsertError(t *testing.T) {
	boom := errors.New("insert failed")
	_, err := fixedGenerator().Unique(context.Background(), 2, func(ctx context.Context, codes []string) ([]string, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestCodes_RejectsMoreThanCodeSpace(t *testing.T) {
	_, err := fixedGenerator().Codes(CodeSpace + 1)
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
}

func TestCodes_StopsWhenDrawsKeepRepeating(t *testing.T) {
	g := fixedGenerator()
	g.Rand = zeroReader{}

	code, err := g.Code()
	require.NoError(t, err)
	assert.Equal(t, "2023AAAA10", code)

	_, err = g.Codes(2)
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
}
