package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
)

// Console drives an operator terminal: it prints progress and findings and
// reads answers to prompts from in.
type Console struct {
	listener.Base

	assumeYes bool

	mu  sync.Mutex
	out io.Writer
	in  *bufio.Reader

	// lines carries operator input from a single reader goroutine and is
	// closed once in is exhausted.
	lines   chan string
	reading sync.Once
}

// NewConsole returns a console writing to out. With assumeYes every prompt
// is answered Yes without reading in, which may then be nil.
func NewConsole(in io.Reader, out io.Writer, assumeYes bool) *Console {
	c := &Console{out: out, assumeYes: assumeYes, lines: make(chan string)}
	if in != nil {
		c.in = bufio.NewReader(in)
	}
	return c
}

func (c *Console) AddOutcome(part, step int, outcome model.Outcome, message string) {
	if outcome == model.Pass || outcome == model.Info {
		return
	}
	c.printf("  %s: %s", outcome, message)
}

func (c *Console) BeginPart(part int, name string) { c.printf("\nPart %d - %s", part, name) }

func (c *Console) OnProgress(current, total int, message string) {
	c.printf("[%d/%d] %s", current, total, message)
}

func (c *Console) OnProgressMessage(message string) { c.printf("  %s", message) }

func (c *Console) OnVehicleInformationReceived(info model.VehicleInformation) {
	c.printf("  Vehicle: %s", info)
}

func (c *Console) OnUrgentMessage(message, title string, kind model.MessageType, answer func(model.Answer)) {
	c.printf("\n%s [%s] %s", kind, title, message)
	if answer == nil {
		return
	}
	if c.assumeYes || c.in == nil {
		c.printf("  answered %s", model.Yes)
		answer(model.Yes)
		return
	}

	if kind == model.MessageQuestion {
		c.prompt("  Continue? [y/N/c] ")
	} else {
		c.prompt("  Press Enter to continue ")
	}
	c.reading.Do(func() { go c.readLines() })
	go func() {
		line, ok := <-c.lines
		if !ok {
			answer(model.Cancel)
			return
		}
		if kind != model.MessageQuestion {
			answer(model.Yes)
			return
		}
		answer(ParseAnswer(line))
	}()
}

func (c *Console) OnComplete(success bool) {
	if success {
		c.printf("\nRun complete")
		return
	}
	c.printf("\nRun did not complete")
}

// ParseAnswer reads an operator reply. Anything but yes or cancel is No.
func ParseAnswer(line string) model.Answer {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return model.Yes
	case "c", "cancel":
		return model.Cancel
	}
	return model.No
}

func (c *Console) readLines() {
	defer close(c.lines)
	for {
		line, err := c.in.ReadString('\n')
		if line != "" {
			c.lines <- line
		}
		if err != nil {
			return
		}
	}
}

func (c *Console) prompt(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, s)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format+"\n", args...)
}
