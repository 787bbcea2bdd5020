// Package steps sequences the engine services into the steps of a test
// part. Steps hold no verification logic of their own.
package steps

import (
	"context"
	"fmt"

	"github.com/autopeer-io/obdverify/internal/verifier/controller"
	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/internal/verifier/session"
)

// Step is one numbered step of a part.
type Step struct {
	Name string
	Run  func(ctx context.Context, r *Runner) error
}

// Runner carries what a step needs while it runs.
type Runner struct {
	*session.Services

	Session  *session.Session
	Listener listener.Listener
	Part     int
	Step     int

	// clearRefused is set once every OBD module refused the DM11.
	clearRefused bool
}

// Section formats the citation of the running step, e.g. "1.4.a".
func (r *Runner) Section(letters string) string {
	return model.Section(r.Part, r.Step, letters)
}

// Part is a named sequence of steps.
type Part struct {
	Number int
	Name   string
	Steps  []Step
}

// Controller returns a controller running p against s.
func (p Part) Controller(s *session.Session, opts ...controller.Option) *controller.Controller {
	name := fmt.Sprintf("Part %d %s", p.Number, p.Name)
	return controller.New(name, len(p.Steps), p.body(s), opts...)
}

func (p Part) body(s *session.Session) controller.RunFunc {
	return func(ctx context.Context, c *controller.Controller) error {
		l := c.Listener()
		r := &Runner{Services: s.Bind(c), Session: s, Listener: l, Part: p.Number}

		l.BeginPart(p.Number, p.Name)
		for i, step := range p.Steps {
			r.Step = i + 1
			if err := c.IncrementProgress(fmt.Sprintf("Step %d.%d %s", p.Number, r.Step, step.Name)); err != nil {
				return err
			}
			l.BeginStep(p.Number, r.Step, step.Name)
			if err := step.Run(ctx, r); err != nil {
				return fmt.Errorf("step %d.%d: %w", p.Number, r.Step, err)
			}
			l.EndStep(p.Number, r.Step, step.Name)
		}
		l.EndPart(p.Number, p.Name)
		return nil
	}
}

// CodeClear is the part verifying a DM11 diagnostic data clear.
func CodeClear() Part {
	return Part{
		Number: 1,
		Name:   "Diagnostic Data Clear",
		Steps: []Step{
			{Name: "Vehicle information", Run: VehicleInformation},
			{Name: "DM5: OBD module discovery", Run: DiscoverModules},
			{Name: "DM24: SPN support", Run: SupportedSPNs},
			{Name: "Data stream broadcast", Run: DataStream},
			{Name: "Diagnostic data snapshot", Run: Snapshot},
			{Name: "DM11: Clear diagnostic data", Run: Clear},
			{Name: "Verify diagnostic data erased", Run: VerifyErased},
			{Name: "Verify no partial erasure", Run: VerifyNotPartiallyErased},
		},
	}
}

// Parts returns the parts named by numbers, in that order.
func Parts(numbers []int) ([]Part, error) {
	known := map[int]func() Part{
		1: CodeClear,
	}
	parts := make([]Part, 0, len(numbers))
	for _, n := range numbers {
		fn, ok := known[n]
		if !ok {
			return nil, fmt.Errorf("part %d is not available", n)
		}
		parts = append(parts, fn())
	}
	return parts, nil
}
