package market

import (
	"fmt"
	"strings"
)

// Direction is the bias of a position. The zero value is Flat.
type Direction string

const (
	Flat  Direction = ""
	Long  Direction = "long"
	Short Direction = "short"
)

// Broker-native order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

func (d Direction) IsFlat() bool {
	return d == Flat
}

// Opposite returns Short for Long and Long for Short. Flat stays Flat.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return Flat
	}
}

// ToOrderSide maps long to BUY and short to SELL; flat maps to "".
func (d Direction) ToOrderSide() string {
	switch d {
	case Long:
		return SideBuy
	case Short:
		return SideSell
	default:
		return ""
	}
}

// Sign is +1 for long, -1 for short and 0 when flat.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// DirectionFromOrderSide converts a broker side (BUY/SELL, any case).
func DirectionFromOrderSide(side string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case SideBuy:
		return Long, nil
	case SideSell:
		return Short, nil
	default:
		return Flat, fmt.Errorf("invalid order side %q: must be BUY or SELL", side)
	}
}

// ParseDirection accepts "long", "short" and "" (flat).
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Long:
		return Long, nil
	case Short:
		return Short, nil
	case Flat:
		return Flat, nil
	default:
		return Flat, fmt.Errorf("invalid direction %q", s)
	}
}
