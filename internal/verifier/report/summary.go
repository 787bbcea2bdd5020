package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/gosuri/uitable"

	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
)

// Snapshot is a point-in-time view of a run, served by the HTTP API.
type Snapshot struct {
	Step     string                `json:"step,omitempty"`
	Progress string                `json:"progress,omitempty"`
	Counts   map[model.Outcome]int `json:"counts"`
	Results  []model.Result        `json:"results"`
	Done     bool                  `json:"done"`
	Success  bool                  `json:"success"`
}

// Summary tallies outcomes as they are reported.
type Summary struct {
	listener.Base

	mu       sync.RWMutex
	step     string
	progress string
	counts   map[model.Outcome]int
	results  []model.Result
	done     bool
	success  bool
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{counts: make(map[model.Outcome]int)}
}

func (s *Summary) AddOutcome(part, step int, outcome model.Outcome, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[outcome]++
	s.results = append(s.results, model.Result{Part: part, Step: step, Outcome: outcome, Message: message})
}

func (s *Summary) BeginStep(part, step int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = fmt.Sprintf("%d.%d %s", part, step, name)
}

func (s *Summary) OnProgress(current, total int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = fmt.Sprintf("%d/%d %s", current, total, message)
}

func (s *Summary) OnProgressMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = message
}

func (s *Summary) OnComplete(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done, s.success = true, success
}

// Count returns how many outcomes of kind o were reported.
func (s *Summary) Count(o model.Outcome) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[o]
}

// Snapshot copies the current state.
func (s *Summary) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[model.Outcome]int, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	return Snapshot{
		Step:     s.step,
		Progress: s.progress,
		Counts:   counts,
		Results:  append([]model.Result(nil), s.results...),
		Done:     s.done,
		Success:  s.success,
	}
}

// Render writes the outcome counts followed by every non-passing result.
func (s *Summary) Render(w io.Writer) error {
	snap := s.Snapshot()

	table := uitable.New()
	table.MaxColWidth = 100
	table.Wrap = true
	table.AddRow("OUTCOME", "COUNT")
	for _, o := range model.Outcomes() {
		table.AddRow(o, snap.Counts[o])
	}
	if _, err := fmt.Fprintln(w, table); err != nil {
		return err
	}

	details := uitable.New()
	details.MaxColWidth = 100
	details.Wrap = true
	details.AddRow("STEP", "OUTCOME", "MESSAGE")
	n := 0
	for _, r := range snap.Results {
		if r.Outcome == model.Pass || r.Outcome == model.Info {
			continue
		}
		details.AddRow(fmt.Sprintf("%d.%d", r.Part, r.Step), r.Outcome, r.Message)
		n++
	}
	if n == 0 {
		return nil
	}
	_, err := fmt.Fprintln(w, "\n"+details.String())
	return err
}

var _ listener.Listener = (*Summary)(nil)
