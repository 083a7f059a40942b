package flow

import (
	"context"
	"fmt"

	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// dustTolerance absorbs the per-transfer flooring of proportional shares
// when comparing level totals. One qu per hop row is the worst case; this
// bound is generous without hiding real leaks.
const dustTolerance = 1000

// Validate runs the conservation checks over the full tracking state of an
// emission epoch and returns a structured report. Violations are reported,
// never repaired.
func (t *Tracker) Validate(ctx context.Context, emissionEpoch uint32) (models.ValidationReport, error) {
	report := models.ValidationReport{EmissionEpoch: emissionEpoch, IsValid: true}

	states, err := t.store.AllStates(ctx, emissionEpoch)
	if err != nil {
		return report, err
	}
	if len(states) == 0 {
		report.IsValid = false
		report.Errors = append(report.Errors, "no tracking state exists for this epoch")
		return report, nil
	}

	// Per-state invariants.
	var seedTotal int64
	receivedByLevel := make(map[int]int64)
	sentByLevel := make(map[int]int64)
	terminalByLevel := make(map[int]int64)

	for _, st := range states {
		if st.Pending < 0 {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"%s (origin %s): negative pending %d", st.Address, st.Origin, st.Pending))
		}
		if st.Received-st.Sent != st.Pending && !st.IsTerminal {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"%s (origin %s): pending %d != received %d - sent %d",
				st.Address, st.Origin, st.Pending, st.Received, st.Sent))
		}
		if st.IsComplete && !st.IsTerminal && st.Pending != 0 {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"%s (origin %s): complete non-terminal state with pending %d",
				st.Address, st.Origin, st.Pending))
		}
		if st.HopLevel > models.MaxHopLevels && !st.IsTerminal {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"%s (origin %s): hop level %d exceeds limit", st.Address, st.Origin, st.HopLevel))
		}

		if st.AddressType == models.AddressTypeComputor {
			seedTotal += st.Received
		}
		receivedByLevel[st.HopLevel] += st.Received
		sentByLevel[st.HopLevel] += st.Sent
		if st.IsTerminal {
			terminalByLevel[st.HopLevel] += st.Received
		}
	}

	// Seed total must equal the captured emission summary.
	summary, ok, err := t.store.GetEmissionSummary(ctx, emissionEpoch)
	if err != nil {
		return report, err
	}
	if !ok {
		report.Warnings = append(report.Warnings, "no emission summary recorded for this epoch")
	} else if seedTotal != summary.TotalEmission {
		report.Errors = append(report.Errors, fmt.Sprintf(
			"computor seed total %d != captured emission total %d", seedTotal, summary.TotalEmission))
	}

	// Level conservation: what level L+1 received cannot exceed what level L
	// sent. Equality is not required; spends to untracked destinations and
	// flooring dust reduce the downstream total.
	maxLevel := 0
	for level := range receivedByLevel {
		if level > maxLevel {
			maxLevel = level
		}
	}
	for level := 1; level < maxLevel; level++ {
		sent := sentByLevel[level]
		downstream := receivedByLevel[level+1]
		if downstream > sent+dustTolerance {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"level %d received %d but level %d only sent %d", level+1, downstream, level, sent))
		}
	}

	report.IsValid = len(report.Errors) == 0
	return report, nil
}
