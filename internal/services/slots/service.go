package slots

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"go.uber.org/zap"
)

// Slot is one bookable calendar opening assigned to a rep.
type Slot struct {
	Time  time.Time
	RepID string
}

// ResultKind distinguishes "no availability" from "the upstream broke". The
// intake endpoint treats the two very differently.
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultEmpty
	ResultAPIError
)

// Result is the tagged outcome of a slot fetch.
type Result struct {
	Kind  ResultKind
	Slots []Slot
	Err   error
}

// Service queries the CRM for free slots and renders the availability text
// injected into the agent context.
type Service struct {
	crm *ghl.Client
}

// NewService creates the slot service.
func NewService(crm *ghl.Client) *Service {
	return &Service{crm: crm}
}

// Fetch queries free slots in [start, end) for the given reps and returns the
// first limit chronological slots. Rep identity missing upstream is filled by
// round-robin over repIDs so booking stays deterministic.
func (s *Service) Fetch(ctx context.Context, start, end time.Time, repIDs []string, limit int) Result {
	raw, err := s.crm.FreeSlotsRaw(ctx, start, end, repIDs)
	if err != nil {
		logger.Base().Error("free slots fetch failed", zap.Error(err))
		return Result{Kind: ResultAPIError, Err: err}
	}

	slots, err := Normalize(raw, repIDs)
	if err != nil {
		logger.Base().Error("free slots response unparseable", zap.Error(err))
		return Result{Kind: ResultAPIError, Err: err}
	}
	if len(slots) == 0 {
		return Result{Kind: ResultEmpty}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Time.Before(slots[j].Time) })
	if limit > 0 && len(slots) > limit {
		slots = slots[:limit]
	}
	return Result{Kind: ResultOK, Slots: slots}
}

// Normalize accepts any of the CRM free-slot response shapes and flattens it
// into slots. Shapes handled: a per-date map {YYYY-MM-DD: {slots: [...]}},
// {freeSlots: [...]}, {slots: [...]}, or a bare array. Slot elements may be
// ISO strings or objects carrying a startTime/userId pair.
func Normalize(raw json.RawMessage, repIDs []string) ([]Slot, error) {
	// Bare array first.
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return assignReps(parseSlotElements(arr), repIDs), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("unrecognized free-slots shape: %w", err)
	}

	for _, key := range []string{"freeSlots", "slots"} {
		if inner, ok := obj[key]; ok {
			var items []json.RawMessage
			if err := json.Unmarshal(inner, &items); err == nil {
				return assignReps(parseSlotElements(items), repIDs), nil
			}
		}
	}

	// Per-date map: every key that looks like a date owns a {slots: [...]}.
	var out []Slot
	for key, val := range obj {
		if !dateKeyRe.MatchString(key) {
			continue
		}
		var day struct {
			Slots []json.RawMessage `json:"slots"`
		}
		if err := json.Unmarshal(val, &day); err != nil {
			continue
		}
		out = append(out, parseSlotElements(day.Slots)...)
	}
	return assignReps(out, repIDs), nil
}

var dateKeyRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type slotObject struct {
	StartTime string `json:"startTime"`
	Time      string `json:"time"`
	UserID    string `json:"userId"`
}

func parseSlotElements(items []json.RawMessage) []Slot {
	var out []Slot
	for _, item := range items {
		var iso string
		if err := json.Unmarshal(item, &iso); err == nil {
			if t, err := parseISO(iso); err == nil {
				out = append(out, Slot{Time: t})
			}
			continue
		}
		var obj slotObject
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		iso = obj.StartTime
		if iso == "" {
			iso = obj.Time
		}
		if t, err := parseISO(iso); err == nil {
			out = append(out, Slot{Time: t, RepID: obj.UserID})
		}
	}
	return out
}

func parseISO(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable slot time %q", s)
}

// assignReps fills missing rep identity by round-robin over the requested set.
func assignReps(slots []Slot, repIDs []string) []Slot {
	if len(repIDs) == 0 {
		return slots
	}
	next := 0
	for i := range slots {
		if slots[i].RepID == "" {
			slots[i].RepID = repIDs[next%len(repIDs)]
			next++
		}
	}
	return slots
}
