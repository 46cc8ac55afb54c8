package supervisor

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// StartedLine is forwarded once when a progress span begins.
const StartedLine = "Task in progress..."

var markerPattern = regexp.MustCompile(`(\d+)%\|`)

// Phase is the parser's position relative to a progress span.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInSpan
)

func (p Phase) String() string {
	if p == PhaseInSpan {
		return "in_progress_span"
	}
	return "idle"
}

// State is the parser's mutable state.
type State struct {
	Phase   Phase
	Pass    int
	Percent int
}

// EventKind classifies the outcome of feeding one line.
type EventKind int

const (
	// EventProgress carries a new overall percentage. Started is set on the
	// first marker after idle.
	EventProgress EventKind = iota
	// EventPassAdvanced reports a blank line inside a span.
	EventPassAdvanced
	// EventLine carries text to forward verbatim.
	EventLine
)

// Event is what one line turned into.
type Event struct {
	Kind    EventKind
	Percent int
	Started bool
	Text    string
}

// ProgressParser turns a predictor's text stream into one percentage across
// a known number of sequential passes. It is not safe for concurrent use.
type ProgressParser struct {
	total int
	state State
}

// NewProgressParser returns a parser for total passes; values below one are
// treated as one.
func NewProgressParser(total int) *ProgressParser {
	if total < 1 {
		total = 1
	}
	return &ProgressParser{total: total}
}

// Total returns the number of passes the parser normalizes over.
func (p *ProgressParser) Total() int { return p.total }

// State returns a copy of the current state.
func (p *ProgressParser) State() State { return p.state }

// Reset returns the parser to idle at pass zero.
func (p *ProgressParser) Reset() { p.state = State{} }

// Feed advances the state machine by one line.
func (p *ProgressParser) Feed(line string) Event {
	line = strings.TrimSpace(line)

	if m := markerPattern.FindStringSubmatch(line); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			n = math.MaxInt32
		}
		started := p.state.Phase == PhaseIdle
		p.state.Phase = PhaseInSpan
		p.state.Percent = p.overall(n)
		return Event{Kind: EventProgress, Percent: p.state.Percent, Started: started}
	}

	if p.state.Phase == PhaseInSpan && line == "" {
		p.state.Pass++
		return Event{Kind: EventPassAdvanced}
	}

	p.state.Phase = PhaseIdle
	p.state.Pass = 0
	return Event{Kind: EventLine, Text: line}
}

func (p *ProgressParser) overall(n int) int {
	v := math.RoundToEven((100*float64(p.state.Pass) + float64(n)) / float64(p.total))
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}

// Passes returns the number of progress passes for an ensemble of models
// each evaluating folds fold groups; never less than one.
func Passes(models, folds int) int {
	if n := models * folds; n > 0 {
		return n
	}
	return 1
}
