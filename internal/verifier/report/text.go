// Package report holds the listeners that persist, publish and summarize
// what a run reports.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
)

// Text writes a plain text report. Every line is flushed as it is written so
// that an interrupted run still leaves a readable file.
type Text struct {
	listener.Base

	clock clock.PassiveClock

	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	path   string
	err    error
}

// NewText returns a report writing to w.
func NewText(w io.Writer, clk clock.PassiveClock) *Text {
	if clk == nil {
		clk = clock.RealClock{}
	}
	t := &Text{w: bufio.NewWriter(w), clock: clk}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// CreateText creates dir/<runID>.txt and returns a report writing to it.
func CreateText(dir, runID string, clk clock.PassiveClock) (*Text, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	path := filepath.Join(dir, runID+".txt")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create report file: %w", err)
	}
	t := NewText(f, clk)
	t.path = path
	return t, nil
}

// Path returns the file written to, if any.
func (t *Text) Path() string { return t.path }

func (t *Text) AddOutcome(_, _ int, outcome model.Outcome, message string) {
	t.printf("%s %s: %s", t.clock.Now().Format("15:04:05.0000"), outcome, message)
}

func (t *Text) BeginPart(part int, name string) { t.printf("\nPart %d - %s", part, name) }
func (t *Text) EndPart(part int, name string)   { t.printf("End of Part %d - %s", part, name) }

func (t *Text) BeginStep(part, step int, name string) {
	t.printf("\nStep %d.%d - %s", part, step, name)
}

func (t *Text) EndStep(part, step int, name string) {
	t.printf("End of Step %d.%d", part, step)
}

func (t *Text) OnResult(line string) { t.printf("%s", line) }

func (t *Text) OnResults(lines []string) {
	for _, l := range lines {
		t.printf("%s", l)
	}
}

func (t *Text) OnUrgentMessage(message, title string, kind model.MessageType, _ func(model.Answer)) {
	t.printf("%s [%s] %s", kind, title, message)
}

func (t *Text) OnVehicleInformationReceived(info model.VehicleInformation) {
	t.printf("Vehicle: %s VIN %s", info, info.VIN)
}

func (t *Text) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	if _, err := fmt.Fprintf(t.w, format+"\n", args...); err != nil {
		t.err = err
		return
	}
	t.err = t.w.Flush()
}

// Err returns the first write error.
func (t *Text) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close flushes the report and closes the underlying file.
func (t *Text) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.w.Flush(); err != nil && t.err == nil {
		t.err = err
	}
	if t.closer != nil {
		if err := t.closer.Close(); err != nil && t.err == nil {
			t.err = err
		}
		t.closer = nil
	}
	return t.err
}

var _ listener.Listener = (*Text)(nil)

