// Package listenertest provides a listener that records every callback for
// assertions in tests.
package listenertest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
)

// Prompt is a recorded urgent message.
type Prompt struct {
	Message string
	Title   string
	Type    model.MessageType
}

// Recorder records callbacks. The zero value is ready to use and answers
// prompts with Answer and vehicle requests with Vehicle.
type Recorder struct {
	Answer  model.Answer
	Vehicle *model.VehicleInformation

	mu          sync.Mutex
	results     []model.Result
	progress    []string
	lines       []string
	prompts     []Prompt
	events      []string
	completions []bool
	vehicles    []model.VehicleInformation
}

var _ listener.Listener = (*Recorder)(nil)

func (r *Recorder) AddOutcome(part, step int, outcome model.Outcome, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, model.Result{Part: part, Step: step, Outcome: outcome, Message: message})
}

func (r *Recorder) BeginPart(part int, name string) { r.event("begin part %d %s", part, name) }
func (r *Recorder) EndPart(part int, name string)   { r.event("end part %d %s", part, name) }

func (r *Recorder) BeginStep(part, step int, name string) {
	r.event("begin step %d.%d %s", part, step, name)
}

func (r *Recorder) EndStep(part, step int, name string) {
	r.event("end step %d.%d %s", part, step, name)
}

func (r *Recorder) OnProgress(current, total int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, message)
}

func (r *Recorder) OnProgressMessage(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, message)
}

func (r *Recorder) OnResult(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *Recorder) OnResults(lines []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, lines...)
}

func (r *Recorder) OnUrgentMessage(message, title string, kind model.MessageType, answer func(model.Answer)) {
	r.mu.Lock()
	r.prompts = append(r.prompts, Prompt{Message: message, Title: title, Type: kind})
	a := r.Answer
	r.mu.Unlock()

	if answer != nil {
		answer(a)
	}
}

func (r *Recorder) OnVehicleInformationNeeded(supply func(model.VehicleInformation)) bool {
	r.event("vehicle information needed")
	if r.Vehicle == nil {
		return false
	}
	supply(*r.Vehicle)
	return true
}

func (r *Recorder) OnVehicleInformationReceived(info model.VehicleInformation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vehicles = append(r.vehicles, info)
}

func (r *Recorder) OnComplete(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, success)
}

func (r *Recorder) event(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

// Results returns every recorded outcome.
func (r *Recorder) Results() []model.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Result(nil), r.results...)
}

// ResultsOf returns the recorded outcomes of kind o.
func (r *Recorder) ResultsOf(o model.Outcome) []model.Result {
	var out []model.Result
	for _, res := range r.Results() {
		if res.Outcome == o {
			out = append(out, res)
		}
	}
	return out
}

// Messages returns the messages of the outcomes of kind o.
func (r *Recorder) Messages(o model.Outcome) []string {
	var out []string
	for _, res := range r.ResultsOf(o) {
		out = append(out, res.Message)
	}
	return out
}

// Count returns how many outcomes of kind o contain substr.
func (r *Recorder) Count(o model.Outcome, substr string) int {
	n := 0
	for _, m := range r.Messages(o) {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func (r *Recorder) Progress() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.progress...)
}

func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *Recorder) Prompts() []Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Prompt(nil), r.prompts...)
}

func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Completions returns the arguments of every OnComplete call.
func (r *Recorder) Completions() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.completions...)
}

func (r *Recorder) Vehicles() []model.VehicleInformation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.VehicleInformation(nil), r.vehicles...)
}
