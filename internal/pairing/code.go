// Package pairing binds client devices to a family using a short spoken
// setup code.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
)

// Words are short, easy to say and easy to spell back.
var Words = []string{
	"hotdog", "burger", "fruit", "pizza", "chicken", "egg", "fries", "chips",
	"salad", "steak", "cheese", "pasta", "bread", "cookie", "pie",
}

const maxAttempts = 32

// ErrExhausted means no unused code was found within maxAttempts.
var ErrExhausted = errors.New("no free setup code")

// CodeChecker reports whether a code is already assigned to a family.
type CodeChecker interface {
	CodeInUse(ctx context.Context, code string) (bool, error)
}

// Generator produces setup codes of the form word+number, e.g. "pizza42".
type Generator struct {
	Store CodeChecker
	// IntN returns a value in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

func (g Generator) intn(n int) int {
	if g.IntN != nil {
		return g.IntN(n)
	}
	return rand.IntN(n)
}

// Candidate returns one code without checking it against the store.
func (g Generator) Candidate() string {
	return Words[g.intn(len(Words))] + strconv.Itoa(g.intn(100))
}

// Generate returns a code no family currently uses.
func (g Generator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code := g.Candidate()
		if g.Store == nil {
			return code, nil
		}
		used, err := g.Store.CodeInUse(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if !used {
			return code, nil
		}
	}
	return "", ErrExhausted
}
