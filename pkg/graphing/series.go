package graphing

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"GpuTelemetry/pkg/exporting"
)

// Series is one numeric column over time. Timestamps are unix ms.
type Series struct {
	Name       string
	Timestamps []int64
	Values     []float64
}

func (s *Series) constant() bool {
	for _, v := range s.Values[1:] {
		if v != s.Values[0] {
			return false
		}
	}
	return true
}

var (
	gpuColumn     = regexp.MustCompile(`^gpu(\d+)`)
	indexedColumn = regexp.MustCompile(`^(gpu\d+proc|proc|check)\d+`)
)

// chartable excludes bookkeeping, JSON blobs and per-row list expansions,
// whose column positions do not follow one process or check over time.
func chartable(col string) bool {
	switch {
	case col == "timestamp", strings.HasPrefix(col, "_"):
		return false
	case strings.HasSuffix(col, "Json"):
		return false
	case indexedColumn.MatchString(col):
		return false
	}
	return true
}

// buildSeries returns one series per numeric column that changes at least
// once, sorted by name.
func buildSeries(records []exporting.Record) []*Series {
	byName := make(map[string]*Series)
	for _, r := range records {
		ts := int64(exporting.ToFloat64(r["timestamp"]))
		for col, raw := range r {
			if !chartable(col) {
				continue
			}
			v, ok := exporting.ToFloat64Ok(raw)
			if !ok {
				continue
			}
			s := byName[col]
			if s == nil {
				s = &Series{Name: col}
				byName[col] = s
			}
			s.Timestamps = append(s.Timestamps, ts)
			s.Values = append(s.Values, v)
		}
	}

	result := make([]*Series, 0, len(byName))
	for _, s := range byName {
		if len(s.Values) >= 2 && !s.constant() {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// category names the report section a column belongs to.
func category(col string) string {
	if m := gpuColumn.FindStringSubmatch(col); m != nil {
		return "GPU " + m[1]
	}
	switch {
	case strings.HasPrefix(col, "health"):
		return "Health"
	case strings.HasPrefix(col, "cpu"), strings.HasPrefix(col, "memory"), strings.HasPrefix(col, "swap"):
		return "Host"
	case strings.Contains(strings.ToLower(col), "process"):
		return "Processes"
	}
	return "Other"
}

func groupSeries(series []*Series) map[string][]*Series {
	groups := make(map[string][]*Series)
	for _, s := range series {
		cat := category(s.Name)
		groups[cat] = append(groups[cat], s)
	}
	return groups
}

// orderedCategories puts Health and Host first, then GPUs by index, then
// Processes and Other.
func orderedCategories(groups map[string][]*Series) []string {
	rank := func(cat string) (int, int) {
		switch cat {
		case "Health":
			return 0, 0
		case "Host":
			return 1, 0
		case "Processes":
			return 3, 0
		case "Other":
			return 4, 0
		}
		n, _ := strconv.Atoi(strings.TrimPrefix(cat, "GPU "))
		return 2, n
	}
	cats := make([]string, 0, len(groups))
	for c := range groups {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		ri, ni := rank(cats[i])
		rj, nj := rank(cats[j])
		if ri != rj {
			return ri < rj
		}
		return ni < nj
	})
	return cats
}

// formatName splits a camelCase column name into words.
func formatName(name string) string {
	var result strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteRune(' ')
		}
		result.WriteRune(r)
	}
	return result.String()
}
