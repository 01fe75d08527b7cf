package ingest

import (
	"fmt"
	"math"
	"time"

	"geosense/data"
)

// Issue records one quality problem found during cleaning.
type Issue struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"` // low, medium, high
	Message  string `json:"message"`
	Row      int    `json:"row"`
}

// Rule inspects one frame row and reports an issue if it should be
// rejected.
type Rule interface {
	Name() string
	Check(f *data.Frame, row int) *Issue
}

// CleaningStats accumulates counters across Clean calls.
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// Cleaner applies quality-control rules to raw observation frames before
// normalization. Input frames are never mutated.
type Cleaner struct {
	rules []Rule
	stats CleaningStats
}

// NewCleaner builds a cleaner. Without explicit rules it installs the
// default chain: finite values, valid timestamps, duplicate locations.
func NewCleaner(rules ...Rule) *Cleaner {
	if len(rules) == 0 {
		rules = []Rule{
			FiniteValueRule{},
			TimestampRule{},
			NewDuplicateRule(),
		}
	}
	return &Cleaner{
		rules: rules,
		stats: CleaningStats{Issues: make(map[string]int64)},
	}
}

// AddRule appends a rule to the chain.
func (c *Cleaner) AddRule(rule Rule) {
	c.rules = append(c.rules, rule)
}

// Clean returns a copy of the frame with rejected rows removed, plus the
// issues found.
func (c *Cleaner) Clean(f *data.Frame) (*data.Frame, []Issue) {
	var issues []Issue
	keep := make([]bool, f.Len())
	kept := 0
	for row := 0; row < f.Len(); row++ {
		c.stats.TotalProcessed++
		keep[row] = true
		for _, rule := range c.rules {
			if issue := rule.Check(f, row); issue != nil {
				issues = append(issues, *issue)
				c.stats.Issues[issue.Rule]++
				keep[row] = false
				break
			}
		}
		if keep[row] {
			kept++
			c.stats.Passed++
		} else {
			c.stats.Rejected++
		}
	}
	c.stats.LastClean = time.Now()

	out := &data.Frame{
		TimeName:   f.TimeName,
		X1Name:     f.X1Name,
		X2Name:     f.X2Name,
		VarNames:   append([]string(nil), f.VarNames...),
		Vars:       make(map[string][]float64, len(f.Vars)),
		ExtraNames: append([]string(nil), f.ExtraNames...),
		Extras:     make(map[string][]string, len(f.Extras)),
	}
	out.Times = make([]time.Time, 0, kept)
	out.X1 = make([]float64, 0, kept)
	out.X2 = make([]float64, 0, kept)
	for row := 0; row < f.Len(); row++ {
		if !keep[row] {
			continue
		}
		out.Times = append(out.Times, f.Times[row])
		out.X1 = append(out.X1, f.X1[row])
		out.X2 = append(out.X2, f.X2[row])
		for _, name := range f.VarNames {
			out.Vars[name] = append(out.Vars[name], f.Vars[name][row])
		}
		for _, name := range f.ExtraNames {
			out.Extras[name] = append(out.Extras[name], f.Extras[name][row])
		}
	}
	return out, issues
}

// Stats returns a copy of the accumulated counters.
func (c *Cleaner) Stats() CleaningStats {
	out := c.stats
	out.Issues = make(map[string]int64, len(c.stats.Issues))
	for k, v := range c.stats.Issues {
		out.Issues[k] = v
	}
	return out
}

// FiniteValueRule rejects rows with NaN or infinite values or coordinates.
type FiniteValueRule struct{}

func (FiniteValueRule) Name() string { return "finite_value" }

func (r FiniteValueRule) Check(f *data.Frame, row int) *Issue {
	if !isFinite(f.X1[row]) || !isFinite(f.X2[row]) {
		return &Issue{Rule: r.Name(), Severity: "high", Message: "non-finite coordinate", Row: row}
	}
	for _, name := range f.VarNames {
		if !isFinite(f.Vars[name][row]) {
			return &Issue{Rule: r.Name(), Severity: "high", Message: fmt.Sprintf("non-finite %s", name), Row: row}
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// BoundsRule rejects rows whose coordinates fall outside a declared region.
type BoundsRule struct {
	X1Lo, X1Hi float64
	X2Lo, X2Hi float64
}

func (BoundsRule) Name() string { return "bounds" }

func (r BoundsRule) Check(f *data.Frame, row int) *Issue {
	if f.X1[row] < r.X1Lo || f.X1[row] > r.X1Hi || f.X2[row] < r.X2Lo || f.X2[row] > r.X2Hi {
		return &Issue{
			Rule:     r.Name(),
			Severity: "medium",
			Message:  fmt.Sprintf("location (%v, %v) outside region", f.X1[row], f.X2[row]),
			Row:      row,
		}
	}
	return nil
}

// TimestampRule rejects zero timestamps and observations from the future.
type TimestampRule struct{}

func (TimestampRule) Name() string { return "timestamp" }

func (r TimestampRule) Check(f *data.Frame, row int) *Issue {
	t := f.Times[row]
	if t.IsZero() {
		return &Issue{Rule: r.Name(), Severity: "high", Message: "zero timestamp", Row: row}
	}
	if t.After(time.Now().Add(24 * time.Hour)) {
		return &Issue{Rule: r.Name(), Severity: "medium", Message: "timestamp in the future", Row: row}
	}
	return nil
}

// DuplicateRule rejects repeated (time, x1, x2) keys, keeping the first.
type DuplicateRule struct {
	seen map[string]struct{}
}

// NewDuplicateRule creates a stateful duplicate detector.
func NewDuplicateRule() *DuplicateRule {
	return &DuplicateRule{seen: make(map[string]struct{})}
}

func (*DuplicateRule) Name() string { return "duplicate" }

func (r *DuplicateRule) Check(f *data.Frame, row int) *Issue {
	key := fmt.Sprintf("%d|%v|%v", f.Times[row].UnixNano(), f.X1[row], f.X2[row])
	if _, ok := r.seen[key]; ok {
		return &Issue{Rule: r.Name(), Severity: "low", Message: "duplicate observation", Row: row}
	}
	r.seen[key] = struct{}{}
	return nil
}
