package slots

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/pkg/timeutil"
)

// The rendered availability text is a contract: the media bridge parses the
// time the agent picked back out of it to recover the rep id. Three layouts,
// selected by the number of distinct reps in the slot set:
//
//   1 rep      lines "Venerdì 21-03-2025: 09:00, 10:30" + trailer "Sales Rep: <id>"
//   2–3 reps   same lines, times suffixed " (A)".. plus a legend "(A) = <id>"
//   4+ reps    per-rep sections, each "Sales Rep: <id>" followed by its lines

var letters = []string{"A", "B", "C"}

// Render formats slots into the display text and reports which layout was
// used. Times are printed as Rome wall clock.
func Render(slotList []Slot) (string, domain.SlotLayout) {
	if len(slotList) == 0 {
		return "", domain.SlotLayoutSingle
	}

	reps := distinctReps(slotList)
	switch {
	case len(reps) <= 1:
		repID := ""
		if len(reps) == 1 {
			repID = reps[0]
		}
		var b strings.Builder
		writeDateLines(&b, slotList, nil)
		b.WriteString(fmt.Sprintf("\nSales Rep: %s", repID))
		return b.String(), domain.SlotLayoutSingle

	case len(reps) <= 3:
		suffix := make(map[string]string, len(reps))
		for i, rep := range reps {
			suffix[rep] = letters[i]
		}
		var b strings.Builder
		writeDateLines(&b, slotList, suffix)
		b.WriteString("\n")
		for i, rep := range reps {
			b.WriteString(fmt.Sprintf("\n(%s) = %s", letters[i], rep))
		}
		return b.String(), domain.SlotLayoutLettered

	default:
		var b strings.Builder
		for i, rep := range reps {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(fmt.Sprintf("Sales Rep: %s\n", rep))
			var own []Slot
			for _, s := range slotList {
				if s.RepID == rep {
					own = append(own, s)
				}
			}
			writeDateLines(&b, own, nil)
		}
		return b.String(), domain.SlotLayoutGrouped
	}
}

// writeDateLines prints "Weekday DD-MM-YYYY: HH:MM, HH:MM" per Rome date,
// chronological, with an optional per-slot letter suffix.
func writeDateLines(b *strings.Builder, slotList []Slot, suffix map[string]string) {
	byDate := map[string][]string{}
	var order []string
	for _, s := range slotList {
		local := s.Time.In(timeutil.Rome)
		date := local.Format("02-01-2006")
		if _, seen := byDate[date]; !seen {
			order = append(order, date)
		}
		entry := local.Format("15:04")
		if suffix != nil {
			entry = fmt.Sprintf("%s (%s)", entry, suffix[s.RepID])
		}
		byDate[date] = append(byDate[date], entry)
	}

	for i, date := range order {
		if i > 0 {
			b.WriteString("\n")
		}
		local, _ := timeutil.ItalianToUTC(date, "12:00")
		weekday := timeutil.ItalianWeekday(local.In(timeutil.Rome).Weekday())
		b.WriteString(fmt.Sprintf("%s %s: %s", weekday, date, strings.Join(byDate[date], ", ")))
	}
}

func distinctReps(slotList []Slot) []string {
	seen := map[string]bool{}
	var reps []string
	for _, s := range slotList {
		if s.RepID != "" && !seen[s.RepID] {
			seen[s.RepID] = true
			reps = append(reps, s.RepID)
		}
	}
	sort.Strings(reps)
	return reps
}

var (
	letterSuffixRe = regexp.MustCompile(`\(([A-C])\)\s*$`)
	legendLineRe   = regexp.MustCompile(`^\(([A-C])\)\s*=\s*(\S+)`)
	trailerRe      = regexp.MustCompile(`Sales Rep:\s*(\S+)\s*$`)
	groupHeaderRe  = regexp.MustCompile(`^Sales Rep:\s*(\S+)`)
)

// ResolveRep recovers the rep id behind a time the agent chose from the
// rendered text. It never returns a wrong rep: failure to resolve yields "".
func ResolveRep(chosenTime, displayText string, layout domain.SlotLayout) string {
	chosenTime = strings.TrimSpace(chosenTime)

	// Letter suffix beats everything; the legend is authoritative.
	if m := letterSuffixRe.FindStringSubmatch(chosenTime); m != nil {
		return lookupLegend(displayText, m[1])
	}

	switch layout {
	case domain.SlotLayoutSingle:
		if m := trailerRe.FindStringSubmatch(displayText); m != nil {
			return m[1]
		}
	case domain.SlotLayoutLettered:
		// No letter on the chosen time; unresolvable without guessing.
		return ""
	case domain.SlotLayoutGrouped:
		return lookupGroup(displayText, chosenTime)
	default:
		// Layout tag absent (legacy rows): try trailer, then groups.
		if m := trailerRe.FindStringSubmatch(displayText); m != nil {
			return m[1]
		}
		return lookupGroup(displayText, chosenTime)
	}
	return ""
}

// StripLetterSuffix removes a trailing "(A)" rep marker from a chosen time so
// the remainder parses as a plain datetime.
func StripLetterSuffix(chosen string) string {
	return strings.TrimSpace(letterSuffixRe.ReplaceAllString(chosen, ""))
}

func lookupLegend(displayText, letter string) string {
	for _, line := range strings.Split(displayText, "\n") {
		if m := legendLineRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil && m[1] == letter {
			return m[2]
		}
	}
	return ""
}

func lookupGroup(displayText, chosenTime string) string {
	// Match the HH:MM (and date when present) inside the section whose header
	// precedes the line.
	timePart := chosenTime
	datePart := ""
	if fields := strings.Fields(chosenTime); len(fields) > 1 {
		timePart = fields[len(fields)-1]
		if noon, err := timeutil.ItalianToUTC(fields[len(fields)-2], "12:00"); err == nil {
			datePart = noon.In(timeutil.Rome).Format("02-01-2006")
		}
	}
	currentRep := ""
	for _, line := range strings.Split(displayText, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := groupHeaderRe.FindStringSubmatch(trimmed); m != nil {
			currentRep = m[1]
			continue
		}
		if currentRep != "" && strings.Contains(trimmed, timePart) && strings.Contains(trimmed, datePart) {
			return currentRep
		}
	}
	return ""
}
