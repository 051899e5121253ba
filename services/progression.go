package services

import "math"

// LevelRules configure the progression curve and milestone bonuses.
type LevelRules struct {
	K          int64 // xp scale; reaching level L needs K*L*(L-1)/2 total xp
	Milestone  int   // every level divisible by Milestone pays BonusCoins
	BonusCoins int64
}

// DefaultLevelRules match the production defaults.
var DefaultLevelRules = LevelRules{K: 1000, Milestone: 5, BonusCoins: 250}

func (r LevelRules) k() int64 {
	if r.K <= 0 {
		return DefaultLevelRules.K
	}
	return r.K
}

// LevelThreshold is the total xp needed to reach level.
func (r LevelRules) LevelThreshold(level int) int64 {
	if level <= 1 {
		return 0
	}
	l := int64(level)
	return r.k() * l * (l - 1) / 2
}

// LevelForXP evaluates level = floor((1 + sqrt(1 + 8*xp/K)) / 2).
// The float estimate is corrected against the integer thresholds.
func (r LevelRules) LevelForXP(xp int64) int {
	if xp <= 0 {
		return 1
	}
	k := r.k()
	level := int(math.Floor((1 + math.Sqrt(1+8*float64(xp)/float64(k))) / 2))
	if level < 1 {
		level = 1
	}
	for level > 1 && r.LevelThreshold(level) > xp {
		level--
	}
	for r.LevelThreshold(level+1) <= xp {
		level++
	}
	return level
}

// XPToNextLevel is the total xp at which the level after `level` is reached.
func (r LevelRules) XPToNextLevel(level int) int64 {
	if level < 1 {
		level = 1
	}
	l := int64(level)
	return r.k() * l * (l + 1) / 2
}

// MilestonesBetween lists the milestone levels in (from, to].
func (r LevelRules) MilestonesBetween(from, to int) []int {
	if r.Milestone <= 0 || r.BonusCoins <= 0 {
		return nil
	}
	var out []int
	for l := from + 1; l <= to; l++ {
		if l%r.Milestone == 0 {
			out = append(out, l)
		}
	}
	return out
}

// NormalizeAmount floors a boundary amount to a positive integer.
func NormalizeAmount(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, validation("amount must be a finite number")
	}
	if v >= math.MaxInt64 {
		return 0, validation("amount %v is out of range", v)
	}
	n := int64(math.Floor(v))
	if n <= 0 {
		return 0, validation("amount must be a positive integer, got %v", v)
	}
	return n, nil
}
