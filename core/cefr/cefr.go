// Package cefr holds the Common European Framework of Reference levels and the single
// table mapping a placement percentage to a level.
package cefr

import (
	"errors"
	"fmt"
	"strings"
)

type Level string

const (
	A1 Level = "A1"
	A2 Level = "A2"
	B1 Level = "B1"
	B2 Level = "B2"
	C1 Level = "C1"
	C2 Level = "C2"
)

// Levels lists all levels from lowest to highest.
var Levels = []Level{A1, A2, B1, B2, C1, C2}

var (
	ErrInvalidLevel     = errors.New("invalid CEFR level")
	ErrPercentageBounds = errors.New("percentage must be between 0 and 100")
)

// bands are the inclusive upper bounds of each level, ordered.
// 0-33 A1 | 34-50 A2 | 51-66 B1 | 67-83 B2 | 84-91 C1 | 92-100 C2
var bands = []struct {
	max   int
	level Level
}{
	{max: 33, level: A1},
	{max: 50, level: A2},
	{max: 66, level: B1},
	{max: 83, level: B2},
	{max: 91, level: C1},
	{max: 100, level: C2},
}

// FromPercentage returns the level for a placement percentage in [0, 100].
func FromPercentage(pct int) (Level, error) {
	if pct < 0 || pct > 100 {
		return "", ErrPercentageBounds
	}
	for _, b := range bands {
		if pct <= b.max {
			return b.level, nil
		}
	}
	return "", ErrPercentageBounds // unreachable
}

// ParseLevel parses a level, case-insensitively.
func ParseLevel(s string) (Level, error) {
	lvl := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !lvl.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return lvl, nil
}

func (l Level) Valid() bool {
	return l.Rank() > 0
}

// Rank returns 1 (A1) to 6 (C2), or 0 for an invalid level.
func (l Level) Rank() int {
	for i, lvl := range Levels {
		if l == lvl {
			return i + 1
		}
	}
	return 0
}

func (l Level) String() string { return string(l) }

// Ptr is a helper for optional levels.
func (l Level) Ptr() *Level { return &l }
