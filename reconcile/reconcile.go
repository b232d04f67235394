// Package reconcile keeps local position state consistent with the
// broker. Reconcile classifies differences; Manager applies corrections,
// persists the journal and schedules periodic passes.
package reconcile

import (
	"fmt"
	"math"

	"github.com/rustyeddy/tradedesk/broker"
	"github.com/rustyeddy/tradedesk/journal"
	"github.com/rustyeddy/tradedesk/market"
)

// Discrepancy classifies one instrument of a reconciliation pass.
type Discrepancy string

const (
	Matched           Discrepancy = "MATCHED"
	OrphanBroker      Discrepancy = "ORPHAN_BROKER"      // broker has a position the journal never knew
	PhantomLocal      Discrepancy = "PHANTOM_LOCAL"      // journal has a position the broker does not
	SizeMismatch      Discrepancy = "SIZE_MISMATCH"      // same direction, different size
	DirectionMismatch Discrepancy = "DIRECTION_MISMATCH" // both open, opposite sides
	FailedExit        Discrepancy = "FAILED_EXIT"        // journal recorded flat, broker still open
)

// SizeTolerance is the absolute tolerance used when comparing sizes.
const SizeTolerance = 1e-6

// Entry is the classification of one instrument. Journal and Broker are
// nil when that side has no record.
type Entry struct {
	Instrument  market.Instrument
	Discrepancy Discrepancy
	Journal     *journal.Entry
	Broker      *broker.Position
	Message     string
}

// Result is the outcome of one pass, ordered by instrument.
type Result struct {
	Entries []Entry
}

// IsClean reports whether every instrument matched.
func (r Result) IsClean() bool {
	for _, e := range r.Entries {
		if e.Discrepancy != Matched {
			return false
		}
	}
	return true
}

// HasEmergencies reports whether any instrument is a failed exit.
func (r Result) HasEmergencies() bool {
	for _, e := range r.Entries {
		if e.Discrepancy == FailedExit {
			return true
		}
	}
	return false
}

func (r Result) OrphanBroker() []Entry { return r.filter(OrphanBroker) }
func (r Result) PhantomLocal() []Entry { return r.filter(PhantomLocal) }

// Corrections returns the entries that are not Matched.
func (r Result) Corrections() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Discrepancy != Matched {
			out = append(out, e)
		}
	}
	return out
}

func (r Result) filter(d Discrepancy) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Discrepancy == d {
			out = append(out, e)
		}
	}
	return out
}

// directionMatches maps long to BUY and short to SELL. Any other broker
// side never matches.
func directionMatches(d market.Direction, brokerSide string) bool {
	side := d.ToOrderSide()
	return side != "" && side == brokerSide
}

// Reconcile compares journal state against the broker's open positions.
//
// Broker positions on instruments outside managed are ignored. Every
// managed instrument is reported, plus any managed instrument that only
// the broker knows about. When the broker lists several positions for one
// instrument the last one wins.
func Reconcile(journalPositions map[market.Instrument]journal.Entry, brokerPositions []broker.Position, managed market.InstrumentSet) Result {
	byInst := make(map[market.Instrument]broker.Position)
	for _, bp := range brokerPositions {
		if managed.Has(bp.Instrument) {
			byInst[bp.Instrument] = bp
		}
	}

	all := market.NewInstrumentSet()
	for inst := range managed {
		all.Add(inst)
	}
	for inst := range byInst {
		all.Add(inst)
	}

	var res Result
	for _, inst := range all.Sorted() {
		e := Entry{Instrument: inst}

		je, inJournal := journalPositions[inst]
		if inJournal {
			je := je
			e.Journal = &je
		}
		bp, atBroker := byInst[inst]
		if atBroker {
			bp := bp
			e.Broker = &bp
		}
		journalOpen := inJournal && je.HasPosition()

		switch {
		case !journalOpen && !atBroker:
			e.Discrepancy = Matched

		case journalOpen && atBroker:
			switch {
			case !directionMatches(je.Direction, bp.Direction):
				e.Discrepancy = DirectionMismatch
				e.Message = fmt.Sprintf("direction mismatch: journal=%s broker=%s", je.Direction, bp.Direction)
			case math.Abs(je.Size-bp.Size) > SizeTolerance:
				e.Discrepancy = SizeMismatch
				e.Message = fmt.Sprintf("size mismatch: journal=%v broker=%v", je.Size, bp.Size)
			default:
				e.Discrepancy = Matched
			}

		case atBroker:
			if inJournal {
				e.Discrepancy = FailedExit
				e.Message = "EMERGENCY: journal records flat but broker has position (failed exit?)"
			} else {
				e.Discrepancy = OrphanBroker
				e.Message = fmt.Sprintf("broker has untracked position: %s %v", bp.Direction, bp.Size)
			}

		default:
			e.Discrepancy = PhantomLocal
			e.Message = fmt.Sprintf("journal has %s %v but broker has no position", je.Direction, je.Size)
		}

		res.Entries = append(res.Entries, e)
	}
	return res
}
