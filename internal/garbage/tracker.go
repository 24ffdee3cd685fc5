// Package garbage tracks, per access group, how much reclaimable data
// has piled up since the last collection and decides when a
// compaction must be escalated to also collect garbage.
//
// Adapted from the teacher's internal/compaction.FIFOCompactionPicker:
// the shape of "accumulate stats, compare against a threshold, report
// a boolean trigger" and the injectable now func() time.Time for
// deterministic tests are both kept from NeedsCompaction. The picker
// has no concept of the spec's self-adjusting thresholds, though —
// FIFO's MaxTableFilesSize and TTL are fixed operator config, never
// rescaled from measurement. The rescaling rule in SetGarbageStats has
// no teacher equivalent and is built directly from the target-store
// format's own garbage-collection description.
package garbage

import "time"

// GarbageThreshold is the measured garbage percentage, in [0,1], at or
// above which a collection is considered needed.
const GarbageThreshold = 0.2

// MinimumDataTarget is the floor below which data_target and the
// expirable-bytes trigger never shrink, regardless of rescaling.
const MinimumDataTarget = 256 * 1024

// Tracker accumulates per-access-group garbage statistics between
// collections and decides when a collection is due.
type Tracker struct {
	now func() time.Time

	splitSize uint64

	minTTL, maxTTL  time.Duration
	boundedVersions bool

	deletes        int64
	expirableBytes uint64
	totalBytes     uint64

	dataTarget    uint64
	elapsedTarget time.Duration

	needCollection bool
	lastClearTime  time.Time
}

// New creates a Tracker for an access group whose largest acceptable
// cell-store size is splitSize, whose families span [minTTL, maxTTL]
// (zero if no family carries a TTL), and which has at least one family
// with a bounded max_versions if boundedVersions is set.
func New(splitSize uint64, minTTL, maxTTL time.Duration, boundedVersions bool) *Tracker {
	t := &Tracker{
		now:             time.Now,
		splitSize:       splitSize,
		minTTL:          minTTL,
		maxTTL:          maxTTL,
		boundedVersions: boundedVersions,
		dataTarget:      splitSize / 10,
	}
	if minTTL > 0 {
		t.elapsedTarget = minTTL / 10
	}
	t.lastClearTime = t.now()
	return t
}

// SetClock overrides the time source, for deterministic tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
	t.lastClearTime = now()
}

// AddDelete records one tombstone entry written through this access
// group's current cache since the last clear.
func (t *Tracker) AddDelete() {
	t.deletes++
}

// AddData records n bytes of data written since the last clear.
// expirable marks data belonging to a family with a nonzero TTL.
func (t *Tracker) AddData(n uint64, expirable bool) {
	t.totalBytes += n
	if expirable {
		t.expirableBytes += n
	}
}

// NeedCollection reports the garbage status last recorded by
// SetGarbageStats.
func (t *Tracker) NeedCollection() bool {
	return t.needCollection
}

// CheckNeeded reports whether a collection is due. cachedData is the
// size in bytes of data currently held in the access group's live
// cell cache, not yet reflected in the accumulated total.
func (t *Tracker) CheckNeeded(cachedData uint64, now time.Time) bool {
	disciplined := t.boundedVersions || t.deletes > 0
	accumulated := t.totalBytes + cachedData
	if disciplined && accumulated >= t.dataTarget {
		return true
	}

	if t.maxTTL > 0 && t.expirableBytes >= MinimumDataTarget {
		if now.Sub(t.lastClearTime) >= t.elapsedTarget {
			return true
		}
	}

	return false
}

// SetGarbageStats records the outcome of an actual pre-compaction
// merge scan over total input bytes, of which valid output bytes
// survived, then rescales data_target and elapsed_target so that, at
// this measured garbage ratio, the next trigger would land exactly at
// GarbageThreshold, clamped to [minimum, 2x its prior value] so a
// single measurement can't send a target to zero or to infinity.
func (t *Tracker) SetGarbageStats(total, valid uint64, now time.Time) {
	var garbagePct float64
	if total > 0 {
		garbagePct = float64(total-valid) / float64(total)
	}
	t.needCollection = garbagePct >= GarbageThreshold

	if garbagePct > 0 {
		scale := GarbageThreshold / garbagePct
		t.dataTarget = clampUint64(scaleUint64(t.dataTarget, scale), MinimumDataTarget, 2*t.dataTarget)
		if t.elapsedTarget > 0 {
			t.elapsedTarget = clampDuration(scaleDuration(t.elapsedTarget, scale), 0, 2*t.elapsedTarget)
		}
	}

	t.deletes = 0
	t.expirableBytes = 0
	t.totalBytes = 0
	t.lastClearTime = now
}

func scaleUint64(v uint64, scale float64) uint64 {
	scaled := float64(v) * scale
	if scaled < 0 {
		return 0
	}
	return uint64(scaled)
}

func clampUint64(v, minimum, maximum uint64) uint64 {
	if v < minimum {
		return minimum
	}
	if maximum > 0 && v > maximum {
		return maximum
	}
	return v
}

func scaleDuration(d time.Duration, scale float64) time.Duration {
	return time.Duration(float64(d) * scale)
}

func clampDuration(d, minimum, maximum time.Duration) time.Duration {
	if d < minimum {
		return minimum
	}
	if maximum > 0 && d > maximum {
		return maximum
	}
	return d
}
