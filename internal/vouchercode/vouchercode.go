// Package vouchercode generates voucher codes of the form YYYY + 4 letters +
// 2 digits, e.g. 2023ABCD99.
package vouchercode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"time"
)

const (
	letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// DefaultMaxAttempts bounds how many rounds Unique regenerates colliding codes.
	DefaultMaxAttempts = 5

	// CodeSpace is the number of distinct codes available in one year.
	CodeSpace = 26 * 26 * 26 * 26 * 90

	// drawsPerCode bounds how many draws Codes makes per requested code.
	drawsPerCode = 10
)

// ErrCodeSpaceExhausted is returned when codes keep colliding after all attempts.
var ErrCodeSpaceExhausted = errors.New("voucher code generation exhausted retries")

// InsertFunc stores codes and returns the ones rejected as duplicates.
type InsertFunc func(ctx context.Context, codes []string) (rejected []string, err error)

// Generator produces voucher codes.
type Generator struct {
	Rand        io.Reader
	Now         func() time.Time
	MaxAttempts int
}

// NewGenerator returns a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{Rand: rand.Reader, Now: time.Now, MaxAttempts: DefaultMaxAttempts}
}

// Code returns a single code for the current year.
func (g *Generator) Code() (string, error) {
	buf := make([]byte, 0, 10)
	buf = strconv.AppendInt(buf, int64(g.Now().Year()), 10)

	for i := 0; i < 4; i++ {
		n, err := rand.Int(g.Rand, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", fmt.Errorf("failed to draw letter: %w", err)
		}
		buf = append(buf, letters[n.Int64()])
	}

	// 10..99
	n, err := rand.Int(g.Rand, big.NewInt(90))
	if err != nil {
		return "", fmt.Errorf("failed to draw digits: %w", err)
	}
	buf = strconv.AppendInt(buf, n.Int64()+10, 10)

	return string(buf), nil
}

// Codes returns n codes, distinct within the batch.
func (g *Generator) Codes(n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > CodeSpace {
		return nil, fmt.Errorf("%w: %d codes requested, %d available per year", ErrCodeSpaceExhausted, n, CodeSpace)
	}

	seen := make(map[string]struct{}, n)
	codes := make([]string, 0, n)
	for draws := 0; len(codes) < n; draws++ {
		if draws >= n*drawsPerCode {
			return nil, fmt.Errorf("%w: %d of %d distinct codes after %d draws", ErrCodeSpaceExhausted, len(codes), n, draws)
		}
		code, err := g.Code()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// Unique inserts n codes through insert, regenerating the codes the store
// rejected until all n are stored. It returns the number stored.
func (g *Generator) Unique(ctx context.Context, n int, insert InsertFunc) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	pending := n
	for attempt := 0; attempt < attempts; attempt++ {
		codes, err := g.Codes(pending)
		if err != nil {
			return n - pending, err
		}

		rejected, err := insert(ctx, codes)
		if err != nil {
			return n - pending, err
		}
		pending = len(rejected)
		if pending == 0 {
			return n, nil
		}
	}

	return n - pending, fmt.Errorf("%w: %d codes still colliding", ErrCodeSpaceExhausted, pending)
}
