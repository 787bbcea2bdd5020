// Package listener defines the callbacks a run reports through and the
// fan-out used to deliver them to several receivers.
package listener

import (
	"sync"

	"github.com/autopeer-io/obdverify/internal/verifier/model"
)

// Listener receives everything a run reports. Implementations are called
// from the run goroutine and from the bus countdown goroutine, so they must
// be safe for concurrent use.
type Listener interface {
	AddOutcome(part, step int, outcome model.Outcome, message string)

	BeginPart(part int, name string)
	EndPart(part int, name string)
	BeginStep(part, step int, name string)
	EndStep(part, step int, name string)

	// OnProgress reports determinate progress.
	OnProgress(current, total int, message string)
	// OnProgressMessage replaces the progress text only.
	OnProgressMessage(message string)

	OnResult(line string)
	OnResults(lines []string)

	// OnUrgentMessage prompts the operator. answer may be nil for
	// informational prompts; otherwise it is called once when the operator
	// replies, possibly from another goroutine.
	OnUrgentMessage(message, title string, kind model.MessageType, answer func(model.Answer))

	// OnVehicleInformationNeeded asks the operator to declare the vehicle
	// and reports whether supply will be called, possibly later from
	// another goroutine.
	OnVehicleInformationNeeded(supply func(model.VehicleInformation)) bool
	OnVehicleInformationReceived(info model.VehicleInformation)

	OnComplete(success bool)
}

// Base implements Listener with no-ops so that sinks only override what
// they need.
type Base struct{}

var _ Listener = Base{}

func (Base) AddOutcome(int, int, model.Outcome, string)                            {}
func (Base) BeginPart(int, string)                                                 {}
func (Base) EndPart(int, string)                                                   {}
func (Base) BeginStep(int, int, string)                                            {}
func (Base) EndStep(int, int, string)                                              {}
func (Base) OnProgress(int, int, string)                                           {}
func (Base) OnProgressMessage(string)                                              {}
func (Base) OnResult(string)                                                       {}
func (Base) OnResults([]string)                                                    {}
func (Base) OnUrgentMessage(string, string, model.MessageType, func(model.Answer)) {}
func (Base) OnVehicleInformationNeeded(func(model.VehicleInformation)) bool        { return false }
func (Base) OnVehicleInformationReceived(model.VehicleInformation)                 {}
func (Base) OnComplete(bool)                                                       {}

// List fans every callback out to its members in registration order. A
// panic in one member is not recovered.
type List []Listener

var _ Listener = List(nil)

func (l List) AddOutcome(part, step int, outcome model.Outcome, message string) {
	for _, x := range l {
		x.AddOutcome(part, step, outcome, message)
	}
}

func (l List) BeginPart(part int, name string) {
	for _, x := range l {
		x.BeginPart(part, name)
	}
}

func (l List) EndPart(part int, name string) {
	for _, x := range l {
		x.EndPart(part, name)
	}
}

func (l List) BeginStep(part, step int, name string) {
	for _, x := range l {
		x.BeginStep(part, step, name)
	}
}

func (l List) EndStep(part, step int, name string) {
	for _, x := range l {
		x.EndStep(part, step, name)
	}
}

func (l List) OnProgress(current, total int, message string) {
	for _, x := range l {
		x.OnProgress(current, total, message)
	}
}

func (l List) OnProgressMessage(message string) {
	for _, x := range l {
		x.OnProgressMessage(message)
	}
}

func (l List) OnResult(line string) {
	for _, x := range l {
		x.OnResult(line)
	}
}

func (l List) OnResults(lines []string) {
	for _, x := range l {
		x.OnResults(lines)
	}
}

// OnUrgentMessage forwards the prompt to every member; only the first
// answer reaches the caller.
func (l List) OnUrgentMessage(message, title string, kind model.MessageType, answer func(model.Answer)) {
	if answer != nil {
		answer = once(answer)
	}
	for _, x := range l {
		x.OnUrgentMessage(message, title, kind, answer)
	}
}

// OnVehicleInformationNeeded forwards the request; only the first supplied
// vehicle reaches the caller.
func (l List) OnVehicleInformationNeeded(supply func(model.VehicleInformation)) bool {
	var o sync.Once
	first := func(v model.VehicleInformation) {
		o.Do(func() { supply(v) })
	}
	supplies := false
	for _, x := range l {
		if x.OnVehicleInformationNeeded(first) {
			supplies = true
		}
	}
	return supplies
}

func (l List) OnVehicleInformationReceived(info model.VehicleInformation) {
	for _, x := range l {
		x.OnVehicleInformationReceived(info)
	}
}

func (l List) OnComplete(success bool) {
	for _, x := range l {
		x.OnComplete(success)
	}
}

func once(fn func(model.Answer)) func(model.Answer) {
	var o sync.Once
	return func(a model.Answer) {
		o.Do(func() { fn(a) })
	}
}
