package extract

import (
	"regexp"
	"sort"
	"strings"
)

// headerPattern matches clause headers such as "7.2 Digital Power Meter", "A1.3) Scope" or "6.".
var headerPattern = regexp.MustCompile(`^([A-Za-z]?\d+(\.\d+)*)([)\.]|\s)\s*(.+)?$`)

// DomainTerms mark a header as meter-related when they appear within two lines of it.
var DomainTerms = []string{
	"meter", "power quality", "energy", "monitor", "instrument", "specification", "digital",
}

// ClauseSelector restricts extraction to explicit clause ids. Empty means auto-detect.
type ClauseSelector struct {
	Clauses []string
}

// IsAuto reports whether sections are discovered by keyword heuristic.
func (s ClauseSelector) IsAuto() bool {
	for _, c := range s.Clauses {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Section is a contiguous slice of the document attributed to one clause.
type Section struct {
	ClauseID string
	Title    string
	// ChildTitles holds the header titles folded into a combined section.
	ChildTitles []string
	Content     string
	StartLine   int
	EndLine     int // exclusive
}

type header struct {
	id    string
	title string
	line  int
}

func scanHeaders(lines []string) []header {
	var out []header
	for i, line := range lines {
		m := headerPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		out = append(out, header{id: m[1], title: strings.TrimSpace(m[4]), line: i})
	}
	return out
}

// FindSections splits text into clause sections according to selector.
func FindSections(text string, selector ClauseSelector) []Section {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	headers := scanHeaders(lines)
	if selector.IsAuto() {
		return autoSections(lines, headers)
	}
	return selectedSections(lines, headers, selector.Clauses)
}

func selectedSections(lines []string, headers []header, clauses []string) []Section {
	allowed := make(map[string]struct{}, len(clauses))
	for _, c := range clauses {
		allowed[strings.TrimSpace(c)] = struct{}{}
	}

	var picked []header
	for _, h := range headers {
		if _, ok := allowed[h.id]; ok {
			picked = append(picked, h)
		}
	}

	sections := make([]Section, 0, len(picked))
	for i, h := range picked {
		end := len(lines)
		if i+1 < len(picked) {
			end = picked[i+1].line
		}
		sections = append(sections, newSection(lines, h.id, h.title, h.line, end))
	}
	return sections
}

func autoSections(lines []string, headers []header) []Section {
	var detected []header
	for _, h := range headers {
		if mentionsDomain(lines, h.line) {
			detected = append(detected, h)
		}
	}

	// Group by the first two numeral components, keeping first-seen order.
	groups := make(map[string][]header)
	var order []string
	for _, h := range detected {
		p := parentID(h.id)
		if _, ok := groups[p]; !ok {
			order = append(order, p)
		}
		groups[p] = append(groups[p], h)
	}

	nextAfter := func(line int) int {
		i := sort.Search(len(detected), func(i int) bool { return detected[i].line > line })
		if i < len(detected) {
			return detected[i].line
		}
		return len(lines)
	}

	sections := make([]Section, 0, len(order))
	for _, p := range order {
		subs := groups[p]
		if len(subs) == 1 {
			h := subs[0]
			sections = append(sections, newSection(lines, h.id, h.title, h.line, nextAfter(h.line)))
			continue
		}

		end := nextAfter(subs[len(subs)-1].line)
		s := newSection(lines, p, "Combined requirements for "+p, subs[0].line, end)
		for _, h := range subs {
			s.ChildTitles = append(s.ChildTitles, h.title)
		}
		sections = append(sections, s)
	}

	sort.SliceStable(sections, func(i, j int) bool { return sections[i].StartLine < sections[j].StartLine })
	return sections
}

func newSection(lines []string, id, title string, start, end int) Section {
	if end < start {
		end = start
	}
	return Section{
		ClauseID:  id,
		Title:     title,
		Content:   strings.Join(lines[start:end], "\n"),
		StartLine: start,
		EndLine:   end,
	}
}

func mentionsDomain(lines []string, idx int) bool {
	lo := idx - 2
	if lo < 0 {
		lo = 0
	}
	hi := idx + 3
	if hi > len(lines) {
		hi = len(lines)
	}
	window := strings.ToLower(strings.Join(lines[lo:hi], " "))
	for _, term := range DomainTerms {
		if strings.Contains(window, term) {
			return true
		}
	}
	return false
}

// parentID keeps the first two dotted components: "6.5.1" -> "6.5".
func parentID(id string) string {
	parts := strings.Split(id, ".")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, ".")
}
