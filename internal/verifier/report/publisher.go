package report

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/pkg/log"
	"github.com/autopeer-io/obdverify/pkg/mqtt"
	"github.com/autopeer-io/obdverify/pkg/mqtt/topic"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const publishTimeout = 2 * time.Second

// RunState is the retained message published when a run completes.
type RunState struct {
	RunID   string    `json:"runId"`
	Success bool      `json:"success"`
	Time    time.Time `json:"time"`
}

// Publisher sends every outcome to {root}/runs/{runID}/outcomes so that a
// remote dashboard can follow the run.
type Publisher struct {
	listener.Base

	client mqtt.Client
	topics *topic.Builder
	runID  string
	clock  clock.PassiveClock
	log    log.Logger
}

// NewPublisher returns a publisher for run runID.
func NewPublisher(client mqtt.Client, topics *topic.Builder, runID string, clk clock.PassiveClock) *Publisher {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Publisher{
		client: client,
		topics: topics,
		runID:  runID,
		clock:  clk,
		log:    log.WithName("publisher").WithValues("run", runID),
	}
}

func (p *Publisher) AddOutcome(part, step int, outcome model.Outcome, message string) {
	p.publish(p.topics.Outcomes(p.runID), false, model.Result{
		Part:    part,
		Step:    step,
		Outcome: outcome,
		Message: message,
		Time:    p.clock.Now(),
	})
}

func (p *Publisher) OnComplete(success bool) {
	p.publish(p.topics.State(p.runID), true, RunState{RunID: p.runID, Success: success, Time: p.clock.Now()})
}

// publish never blocks the run for longer than publishTimeout; failures are
// only logged.
func (p *Publisher) publish(t string, retain bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error(err, "Failed to encode message", "topic", t)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, t, 1, retain, payload); err != nil {
		p.log.Error(err, "Failed to publish", "topic", t)
	}
}

var _ listener.Listener = (*Publisher)(nil)
