package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/pkg/log"
	"github.com/autopeer-io/obdverify/pkg/mqtt"
	"github.com/autopeer-io/obdverify/pkg/mqtt/topic"
	genericoptions "github.com/autopeer-io/obdverify/pkg/options"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewWatchCommand follows the outcomes that running verifiers publish.
func NewWatchCommand(ctx context.Context) *cobra.Command {
	mqttOpts := genericoptions.NewMqttOptions()
	logOpts := log.NewOptions()
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the outcomes verifier runs publish to the MQTT broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utilerrors.NewAggregate(append(mqttOpts.Validate(), logOpts.Validate()...)); err != nil {
				return err
			}
			log.Init(logOpts)
			defer log.Flush()

			client, err := mqtt.NewClient(mqttOpts.ToClientConfig("watch"))
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
			return Watch(ctx, client, topic.NewBuilder(mqttOpts.TopicRoot), cmd.OutOrStdout())
		},
	}
	mqttOpts.AddFlags(cmd.Flags())
	logOpts.AddFlags(cmd.Flags())
	return cmd
}

// Watch prints every outcome published under topics until ctx is done.
func Watch(ctx context.Context, client mqtt.Client, topics *topic.Builder, out io.Writer) error {
	if err := client.AwaitConnection(ctx); err != nil {
		return err
	}
	w := &outcomeWriter{out: out, topics: topics, log: log.WithName("watch")}
	if err := client.Subscribe(ctx, topics.AllOutcomes(), 1, w.handle); err != nil {
		return fmt.Errorf("failed to subscribe to outcomes: %w", err)
	}
	<-ctx.Done()
	return nil
}

type outcomeWriter struct {
	topics *topic.Builder
	log    log.Logger

	mu  sync.Mutex
	out io.Writer
}

func (w *outcomeWriter) handle(_ context.Context, t string, payload []byte) {
	runID, ok := w.topics.ParseOutcomes(t)
	if !ok {
		w.log.Debug("Ignoring message on unexpected topic", "topic", t)
		return
	}
	var r model.Result
	if err := json.Unmarshal(payload, &r); err != nil {
		w.log.Warn("Dropping malformed outcome", "topic", t, "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s %s [%d.%d] %s\n", runID, r.Time.Format("15:04:05"), r.Part, r.Step, r)
}
