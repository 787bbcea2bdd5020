package report

import (
	"github.com/autopeer-io/obdverify/internal/pkg/metrics"
	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/pkg/log"
)

// Logging mirrors outcomes and run milestones into the log stream.
type Logging struct {
	listener.Base
	log log.Logger
}

// NewLogging returns a listener logging through l.
func NewLogging(l log.Logger) *Logging {
	return &Logging{log: l.WithName("report")}
}

func (g *Logging) AddOutcome(part, step int, outcome model.Outcome, message string) {
	kv := []any{"part", part, "step", step, "outcome", outcome}
	switch outcome {
	case model.Fail, model.Abort:
		g.log.Warn(message, kv...)
	default:
		g.log.Info(message, kv...)
	}
}

func (g *Logging) BeginStep(part, step int, name string) {
	g.log.Info("Step started", "part", part, "step", step, "name", name)
}

func (g *Logging) OnProgressMessage(message string) { g.log.Debug(message) }

func (g *Logging) OnUrgentMessage(message, title string, kind model.MessageType, _ func(model.Answer)) {
	if kind == model.MessageError {
		g.log.Error(nil, message, "title", title)
		return
	}
	g.log.Info(message, "title", title, "type", kind)
}

func (g *Logging) OnVehicleInformationReceived(info model.VehicleInformation) {
	g.log.Info("Vehicle declared", "vehicle", info.String(), "vin", info.VIN)
}

func (g *Logging) OnComplete(success bool) {
	g.log.Info("Run complete", "success", success)
}

// Metrics counts outcomes in the process registry.
type Metrics struct {
	listener.Base
}

func (Metrics) AddOutcome(_, _ int, outcome model.Outcome, _ string) {
	metrics.OutcomesTotal.WithLabelValues(outcome.String()).Inc()
}

var (
	_ listener.Listener = (*Logging)(nil)
	_ listener.Listener = Metrics{}
)
