package market

import (
	"errors"
	"sort"
	"strings"
)

// Instrument is an opaque broker identifier (an OANDA symbol, an IG epic,
// ...). It is the primary key of journal, tracker and broker views.
type Instrument string

var ErrEmptyInstrument = errors.New("instrument is empty")

func (i Instrument) String() string {
	return string(i)
}

// ParseInstrument trims s and rejects the empty string.
func ParseInstrument(s string) (Instrument, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyInstrument
	}
	return Instrument(s), nil
}

// InstrumentSet is an unordered set of instruments.
type InstrumentSet map[Instrument]struct{}

func NewInstrumentSet(instruments ...Instrument) InstrumentSet {
	s := make(InstrumentSet, len(instruments))
	for _, i := range instruments {
		s[i] = struct{}{}
	}
	return s
}

func (s InstrumentSet) Add(i Instrument) {
	s[i] = struct{}{}
}

func (s InstrumentSet) Has(i Instrument) bool {
	_, ok := s[i]
	return ok
}

// Sorted returns the members in lexical order.
func (s InstrumentSet) Sorted() []Instrument {
	out := make([]Instrument, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}
