package core

import (
	"time"

	"gopkg.in/yaml.v3"
)

// ResponseRecord is one model's full response in one round, kept for the
// reasoning-history sliding window (§4.8). Missing Action/Params are stored
// as the zero value / nil map rather than the record being dropped.
type ResponseRecord struct {
	Action    ActionType
	Params    map[string]any
	Reasoning string
}

// RoundRecords is one round's worth of response records.
type RoundRecords struct {
	Round   int
	Records []ResponseRecord
}

// DefaultMaxRounds is the round budget used when none is configured,
// unifying the Round Controller's and the temperature schedule's defaults (§9).
const DefaultMaxRounds = 4

// RecentRoundWindow bounds how many trailing rounds of full response
// records the Round Context retains (§3, §4.8).
const RecentRoundWindow = 2

// RoundContext is the mutable-by-replacement container threaded through a
// consensus run (§3). It is a value: every method returns an updated copy
// rather than mutating the receiver, so it can be passed explicitly and
// never stashed in hidden state (§9).
type RoundContext struct {
	TaskPrompt string
	History    []string

	// RecentRounds holds at most RecentRoundWindow entries, oldest first.
	RecentRounds []RoundRecords

	// RawProposals holds every round's raw parsed actions, for audit. Not
	// windowed: the full run's proposal history.
	RawProposals [][]Action

	StartedAt time.Time
	MaxRounds int

	// Lesson is an optional state/priming payload, opaque to the core.
	Lesson any
}

// NewRoundContext builds the initial context for a run.
func NewRoundContext(taskPrompt string, maxRounds int, startedAt time.Time) RoundContext {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return RoundContext{
		TaskPrompt: taskPrompt,
		StartedAt:  startedAt,
		MaxRounds:  maxRounds,
	}
}

// WithHistory returns a copy with an appended history entry (e.g. a
// rendered refinement prompt).
func (rc RoundContext) WithHistory(entry string) RoundContext {
	next := rc
	next.History = append(append([]string{}, rc.History...), entry)
	return next
}

// WithRound returns a copy with round's raw proposals recorded and the
// sliding response-record window updated, evicting the oldest round if the
// window would otherwise exceed RecentRoundWindow.
func (rc RoundContext) WithRound(round int, raw []Action, records []ResponseRecord) RoundContext {
	next := rc

	next.RawProposals = append(append([][]Action{}, rc.RawProposals...), raw)

	window := append([]RoundRecords{}, rc.RecentRounds...)
	window = append(window, RoundRecords{Round: round, Records: records})
	if len(window) > RecentRoundWindow {
		window = window[len(window)-RecentRoundWindow:]
	}
	next.RecentRounds = window

	return next
}

// WithLesson returns a copy carrying a new lesson/state payload.
func (rc RoundContext) WithLesson(lesson any) RoundContext {
	next := rc
	next.Lesson = lesson
	return next
}

// snapshot is the subset of RoundContext worth persisting for audit or
// prompt priming; History and RawProposals are reply-shaped and grow
// unbounded, so a snapshot carries only the bounded, re-usable fields.
type snapshot struct {
	TaskPrompt   string         `yaml:"task_prompt"`
	RecentRounds []RoundRecords `yaml:"recent_rounds"`
	MaxRounds    int            `yaml:"max_rounds"`
	Lesson       any            `yaml:"lesson,omitempty"`
}

// Snapshot renders the Round Context's bounded state as a YAML block,
// for debug tracing and for handing the lesson/state payload to the next
// run as prompt priming.
func (rc RoundContext) Snapshot() (string, error) {
	data, err := yaml.Marshal(snapshot{
		TaskPrompt:   rc.TaskPrompt,
		RecentRounds: rc.RecentRounds,
		MaxRounds:    rc.MaxRounds,
		Lesson:       rc.Lesson,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
