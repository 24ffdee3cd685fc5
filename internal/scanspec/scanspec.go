// Package scanspec collects the scattered scan-request fields named
// throughout the merge-scanner and access-group descriptions (row
// interval, requested columns, time interval, row/cell limits,
// return-deletes) into one type, and resolves them against a schema
// into the concrete per-family limits a merge scanner consumes.
//
// Grounded on Hypertable::Lib::ScanSpec (original_source's
// src/cc/Hypertable/Lib/ScanSpec.cc): the same field set (row_limit,
// max_versions, columns, row_intervals, time_interval, return_deletes)
// and the same BEGINNING_OF_TIME/END_OF_TIME sentinels for an unbounded
// interval, translated from wire-encode/decode methods (this module
// never puts a ScanSpec on the wire) to the resolution step a Go range
// server needs instead: turning column names into column family ids
// and building the mergescan.Options a Scanner actually reads.
package scanspec

import (
	"fmt"
	"math"

	"github.com/hypertable-go/rangestore/internal/mergescan"
	"github.com/hypertable-go/rangestore/internal/schema"
)

// BeginningOfTime and EndOfTime bound an unrestricted time interval.
const (
	BeginningOfTime = math.MinInt64
	EndOfTime       = math.MaxInt64
)

// RowInterval bounds a scan to rows within [Start, End], with either
// end independently inclusive or exclusive. An empty Start means "no
// lower bound"; an empty End means "no upper bound".
type RowInterval struct {
	Start          string
	StartInclusive bool
	End            string
	EndInclusive   bool
}

// ScanSpec is a client-issued scan request, independent of any
// particular schema or access group.
type ScanSpec struct {
	RowIntervals []RowInterval
	Columns      []string

	// MaxVersions overrides every requested family's own max_versions
	// when nonzero.
	MaxVersions int

	StartTime int64
	EndTime   int64

	RowLimit      int
	CellLimit     int
	ReturnDeletes bool

	// Revision bounds visibility to entries at or below this revision;
	// zero means the latest.
	Revision int64
}

// NewScanSpec returns a ScanSpec defaulted the way the original
// constructor does: unlimited rows and versions, the full time
// interval, deletes suppressed.
func NewScanSpec() ScanSpec {
	return ScanSpec{StartTime: BeginningOfTime, EndTime: EndOfTime}
}

// ScanContext is a ScanSpec resolved against a schema's column
// families for one access group: column names turned into column
// family ids, and per-family version/TTL limits assembled into the
// mergescan.Options a Scanner reads directly.
type ScanContext struct {
	Spec ScanSpec

	// FamilyIDs is the resolved set of column family ids this scan
	// touches, empty meaning "every family in the access group".
	FamilyIDs map[uint8]bool

	MergeOptions mergescan.Options
}

// Resolve builds a ScanContext for spec against the families belonging
// to one access group. now is the current wall-clock time, used to
// compute each TTL-bearing family's cutoff timestamp.
func Resolve(spec ScanSpec, families []*schema.ColumnFamily, now int64) (*ScanContext, error) {
	ctx := &ScanContext{
		Spec: spec,
		MergeOptions: mergescan.Options{
			Revision:        spec.Revision,
			ReturnDeletes:   spec.ReturnDeletes,
			RowLimit:        spec.RowLimit,
			CellLimit:       spec.CellLimit,
			MaxVersions:     make(map[uint8]int),
			FamilyCutoff:    make(map[uint8]int64),
			CounterFamilies: make(map[uint8]bool),
		},
	}

	if spec.StartTime != BeginningOfTime {
		ctx.MergeOptions.StartTimestamp = spec.StartTime
	}
	if spec.EndTime != EndOfTime {
		ctx.MergeOptions.EndTimestamp = spec.EndTime
	}

	byName := make(map[string]*schema.ColumnFamily, len(families))
	for _, cf := range families {
		byName[cf.Name] = cf
	}

	selected := families
	if len(spec.Columns) > 0 {
		selected = make([]*schema.ColumnFamily, 0, len(spec.Columns))
		ctx.FamilyIDs = make(map[uint8]bool, len(spec.Columns))
		for _, name := range spec.Columns {
			cf, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("scanspec: unknown column family %q", name)
			}
			selected = append(selected, cf)
			ctx.FamilyIDs[cf.ID] = true
		}
	}

	for _, cf := range selected {
		versionLimit := cf.MaxVersions
		if spec.MaxVersions > 0 {
			versionLimit = spec.MaxVersions
		}
		if versionLimit > 0 {
			ctx.MergeOptions.MaxVersions[cf.ID] = versionLimit
		}
		if cf.TTL > 0 {
			ctx.MergeOptions.FamilyCutoff[cf.ID] = now - int64(cf.TTL)
		}
		if cf.Counter {
			ctx.MergeOptions.CounterFamilies[cf.ID] = true
		}
	}

	return ctx, nil
}

// MatchesRow reports whether row falls within any of spec's row
// intervals (true if none are specified).
func (s *ScanSpec) MatchesRow(row string) bool {
	if len(s.RowIntervals) == 0 {
		return true
	}
	for _, ri := range s.RowIntervals {
		if ri.matches(row) {
			return true
		}
	}
	return false
}

func (ri RowInterval) matches(row string) bool {
	if ri.Start != "" {
		if ri.StartInclusive {
			if row < ri.Start {
				return false
			}
		} else if row <= ri.Start {
			return false
		}
	}
	if ri.End != "" {
		if ri.EndInclusive {
			if row > ri.End {
				return false
			}
		} else if row >= ri.End {
			return false
		}
	}
	return true
}
