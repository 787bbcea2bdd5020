package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/obdverify/cmd/j1939-verifier/app/options"
	"github.com/autopeer-io/obdverify/internal/server"
	httpserver "github.com/autopeer-io/obdverify/internal/server/http"
	"github.com/autopeer-io/obdverify/internal/storage"
	"github.com/autopeer-io/obdverify/internal/transport"
	"github.com/autopeer-io/obdverify/internal/verifier/controller"
	"github.com/autopeer-io/obdverify/internal/verifier/report"
	"github.com/autopeer-io/obdverify/internal/verifier/session"
	"github.com/autopeer-io/obdverify/internal/verifier/steps"
	"github.com/autopeer-io/obdverify/pkg/log"
	"github.com/autopeer-io/obdverify/pkg/mqtt"
	"github.com/autopeer-io/obdverify/pkg/mqtt/topic"
)

const disconnectTimeout = 5 * time.Second

// Run executes the configured parts against the vehicle bus and prints the
// summary to out. Operator prompts are read from in.
func Run(ctx context.Context, opts *options.VerifierOptions, in io.Reader, out io.Writer) error {
	parts, err := steps.Parts(opts.RunOptions.Parts)
	if err != nil {
		return err
	}

	clk := clock.RealClock{}
	runID := NewRunID(clk)
	logger := log.WithName("verifier").WithValues("runID", runID)

	var client mqtt.Client
	var topics *topic.Builder
	if opts.UsesMQTT() {
		client, err = mqtt.NewClient(opts.MqttOptions.ToClientConfig("verifier"))
		if err != nil {
			return err
		}
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mqtt client: %w", err)
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			client.Disconnect(dctx)
		}()
		topics = topic.NewBuilder(opts.MqttOptions.TopicRoot)
	}

	cfg := session.Config{
		RunID:  runID,
		Bus:    opts.BusOptions,
		Run:    opts.RunOptions,
		Clock:  clk,
		Logger: log.Std(),
	}
	if opts.RunOptions.Publish {
		cfg.MQTT, cfg.Topics = client, topics
	}
	if opts.RunOptions.Archive {
		if cfg.Storage, err = storage.NewMinIOProvider(opts.S3Options); err != nil {
			return err
		}
	}
	sess, err := session.New(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	link, err := transport.OpenLink(ctx, opts.BusOptions, client, topics)
	if err != nil {
		return fmt.Errorf("failed to open %s link: %w", opts.BusOptions.Link, err)
	}
	t := transport.NewJ1939(link, opts.BusOptions, transport.WithClock(clk), transport.WithLogger(log.WithName("transport")))
	defer t.Close()

	active := &activeRun{}
	var servers []server.Server
	if opts.HttpOptions.Enabled() {
		servers = append(servers, httpserver.NewServer(opts.HttpOptions, active, sess.Summary()))
	}
	console := report.NewConsole(in, out, opts.RunOptions.AssumeYes)

	logger.Info("Starting run", "parts", opts.RunOptions.Parts, "link", opts.BusOptions.Link, "report", sess.ReportPath())
	final := controller.StateIdle
	err = server.NewManager(servers...).Run(ctx, func(ctx context.Context) error {
		for _, p := range parts {
			c := p.Controller(sess, controller.WithClock(clk))
			active.set(c)
			state, err := c.Run(ctx, sess.Listeners(console), t)
			if err != nil {
				return err
			}
			final = state
			if state != controller.StateCompleted {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nReport: %s\n\n", sess.ReportPath())
	if err := sess.Summary().Render(out); err != nil {
		return err
	}
	logger.Info("Run finished", "state", final)
	if final != controller.StateCompleted {
		return fmt.Errorf("run %s ended %s", runID, final)
	}
	return nil
}

// NewRunID names a run after its start time.
func NewRunID(clk clock.PassiveClock) string {
	return clk.Now().UTC().Format("20060102-150405")
}

// activeRun exposes the part currently running to the control API.
type activeRun struct {
	mu sync.Mutex
	c  *controller.Controller
}

func (r *activeRun) set(c *controller.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c = c
}

func (r *activeRun) get() *controller.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c
}

func (r *activeRun) Name() string {
	if c := r.get(); c != nil {
		return c.Name()
	}
	return ""
}

func (r *activeRun) State() controller.State {
	if c := r.get(); c != nil {
		return c.State()
	}
	return controller.StateIdle
}

func (r *activeRun) Stop() {
	if c := r.get(); c != nil {
		c.Stop()
	}
}
