package settlement

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Shapes an outcome record can arrive in.
const (
	ShapeNone      = "none"
	ShapeCanonical = "canonical" // home_goals, away_goals, is_final
	ShapeLegacyA   = "legacyA"   // homeScore, awayScore, status
	ShapeLegacyB   = "legacyB"   // score "3-1" or {home, away}, finished/completed
)

// Scores is the one shape the evaluator reads, whatever the record looked like.
type Scores struct {
	Home      int
	Away      int
	HasScores bool
	Finished  bool
	Shape     string
}

var finishedStatuses = map[string]bool{
	"finished":  true,
	"final":     true,
	"ft":        true,
	"full_time": true,
	"fulltime":  true,
	"completed": true,
	"closed":    true,
	"ended":     true,
}

// Extract adapts a raw outcome record to Scores. The first shape whose keys
// are present wins; within it, a score is usable only if it is a
// non-negative whole number (ints, whole floats and numeric strings all count).
//
// Legacy writers only stored results once a match ended, so a legacy record
// with usable scores and no status field at all counts as finished.
func Extract(rec map[string]any) Scores {
	switch {
	case rec == nil:
		return Scores{Shape: ShapeNone}
	case hasAny(rec, "home_goals", "away_goals", "is_final"):
		s := Scores{Shape: ShapeCanonical, Finished: truthy(rec["is_final"])}
		s.Home, s.Away, s.HasScores = pair(rec["home_goals"], rec["away_goals"])
		return s
	case hasAny(rec, "homeScore", "awayScore", "status"):
		s := Scores{Shape: ShapeLegacyA, Finished: finishedStatus(rec["status"])}
		s.Home, s.Away, s.HasScores = pair(rec["homeScore"], rec["awayScore"])
		if !hasAny(rec, "status") {
			s.Finished = s.HasScores
		}
		return s
	case hasAny(rec, "score", "finished", "completed"):
		s := Scores{Shape: ShapeLegacyB, Finished: truthy(rec["finished"]) || truthy(rec["completed"])}
		s.Home, s.Away, s.HasScores = legacyScore(rec["score"])
		if !hasAny(rec, "finished", "completed") {
			s.Finished = s.HasScores
		}
		return s
	default:
		return Scores{Shape: ShapeNone}
	}
}

func hasAny(rec map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := rec[k]; ok {
			return true
		}
	}
	return false
}

func pair(h, a any) (int, int, bool) {
	home, ok1 := goals(h)
	away, ok2 := goals(a)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return home, away, true
}

func legacyScore(v any) (int, int, bool) {
	switch s := v.(type) {
	case string:
		return ParseScore(s)
	case map[string]any:
		return pair(s["home"], s["away"])
	}
	return 0, 0, false
}

// ParseScore reads "3-1" or "3:1".
func ParseScore(s string) (int, int, bool) {
	s = strings.TrimSpace(s)
	sep := strings.IndexAny(s, "-:")
	if sep <= 0 {
		return 0, 0, false
	}
	return pair(s[:sep], s[sep+1:])
}

// goals coerces v to a non-negative whole number.
func goals(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && ok
	case float64:
		return b == 1
	case int:
		return b == 1
	case int64:
		return b == 1
	}
	return false
}

func finishedStatus(v any) bool {
	s, ok := v.(string)
	if !ok {
		return truthy(v)
	}
	return finishedStatuses[strings.ToLower(strings.TrimSpace(s))]
}
