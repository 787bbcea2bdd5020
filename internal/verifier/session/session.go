// Package session is the composition root of a verification run. It owns
// the per-run state and wires the engine services to a controller.
package session

import (
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/obdverify/internal/storage"
	"github.com/autopeer-io/obdverify/internal/verifier/broadcast"
	"github.com/autopeer-io/obdverify/internal/verifier/bus"
	"github.com/autopeer-io/obdverify/internal/verifier/controller"
	"github.com/autopeer-io/obdverify/internal/verifier/erasure"
	"github.com/autopeer-io/obdverify/internal/verifier/listener"
	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/internal/verifier/report"
	"github.com/autopeer-io/obdverify/internal/verifier/repository"
	"github.com/autopeer-io/obdverify/pkg/j1939"
	"github.com/autopeer-io/obdverify/pkg/j1939/metadata"
	"github.com/autopeer-io/obdverify/pkg/log"
	"github.com/autopeer-io/obdverify/pkg/mqtt"
	"github.com/autopeer-io/obdverify/pkg/mqtt/topic"
	"github.com/autopeer-io/obdverify/pkg/options"
)

// presignExpiry is how long archived report links stay valid.
const presignExpiry = 7 * 24 * time.Hour

// Config selects what a session is built from. Nil sinks are disabled.
type Config struct {
	RunID string
	Bus   *options.BusOptions
	Run   *options.RunOptions

	// MQTT and Topics enable live outcome publishing.
	MQTT   mqtt.Client
	Topics *topic.Builder

	// Storage enables the report archive.
	Storage storage.Provider

	Clock  clock.WithTicker
	Logger log.Logger
}

// Session is one run's worth of state: metadata, the data repository and
// the report sinks.
type Session struct {
	runID       string
	toolAddress uint8
	vehicle     model.VehicleInformation

	table *metadata.Table
	repo  *repository.Repository
	clock clock.WithTicker
	log   log.Logger

	text      *report.Text
	summary   *report.Summary
	listeners listener.List
}

// New builds a session from cfg. The text report file is created right away.
func New(cfg Config) (*Session, error) {
	if cfg.Bus == nil || cfg.Run == nil {
		return nil, errors.New("session needs bus and run options")
	}
	table, err := metadata.LoadFile(cfg.Run.MetadataFile)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	s := newSession(table, cfg.Clock, cfg.Logger)
	s.runID = cfg.RunID
	s.toolAddress = cfg.Bus.ToolAddress
	s.vehicle = model.VehicleInformation{
		VIN:         cfg.Run.VIN,
		ModelYear:   cfg.Run.ModelYear,
		FuelType:    model.FuelType(cfg.Run.FuelType),
		EngineCount: cfg.Run.EngineCount,
	}

	s.text, err = report.CreateText(cfg.Run.ReportDir, cfg.RunID, s.clock)
	if err != nil {
		return nil, err
	}
	s.listeners = append(s.listeners, s.text, report.NewLogging(s.log), report.Metrics{}, s.summary)

	if cfg.MQTT != nil && cfg.Topics != nil {
		s.listeners = append(s.listeners, report.NewPublisher(cfg.MQTT, cfg.Topics, cfg.RunID, s.clock))
	}
	// The archive must come after the text report so the file is complete.
	if cfg.Storage != nil {
		s.listeners = append(s.listeners, report.NewArchive(cfg.Storage, cfg.RunID, s.text.Path(), presignExpiry))
	}
	return s, nil
}

// NewForTest returns a session with a fresh repository and no sinks.
func NewForTest(table *metadata.Table, clk clock.WithTicker) *Session {
	s := newSession(table, clk, log.NewNopLogger())
	s.runID = "test"
	s.toolAddress = j1939.ToolAddress
	return s
}

func newSession(table *metadata.Table, clk clock.WithTicker, l log.Logger) *Session {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if l == nil {
		l = log.Std()
	}
	return &Session{
		table:   table,
		repo:    repository.New(),
		clock:   clk,
		log:     l.WithName("session"),
		summary: report.NewSummary(),
	}
}

func (s *Session) RunID() string                      { return s.runID }
func (s *Session) ToolAddress() uint8                 { return s.toolAddress }
func (s *Session) Table() *metadata.Table             { return s.table }
func (s *Session) Repository() *repository.Repository { return s.repo }
func (s *Session) Summary() *report.Summary           { return s.summary }

// DeclaredVehicle is the vehicle described by the run options.
func (s *Session) DeclaredVehicle() model.VehicleInformation { return s.vehicle }

// Listeners returns the report sinks followed by extra, e.g. the console.
func (s *Session) Listeners(extra ...listener.Listener) listener.List {
	out := append(listener.List(nil), s.listeners...)
	return append(out, extra...)
}

// ReportPath returns the text report file, if one is written.
func (s *Session) ReportPath() string {
	if s.text == nil {
		return ""
	}
	return s.text.Path()
}

// Close flushes and closes the text report.
func (s *Session) Close() error {
	if s.text == nil {
		return nil
	}
	return s.text.Close()
}

// Services are the engine services of one execution, bound to the
// controller's transport and cancellation checkpoint.
type Services struct {
	Controller *controller.Controller
	Bus        *bus.Service
	Broadcast  *broadcast.Validator
	Erasure    *erasure.Verifier
	Repository *repository.Repository
	Table      *metadata.Table
}

// Bind builds the services for the execution c is running. It must be
// called from the run body, after the transport is bound.
func (s *Session) Bind(c *controller.Controller) *Services {
	svc := bus.New(c.Transport(), s.table, c, bus.WithClock(s.clock), bus.WithLogger(s.log.WithName("bus")))
	return &Services{
		Controller: c,
		Bus:        svc,
		Broadcast:  broadcast.New(s.table, s.repo),
		Erasure:    erasure.New(s.repo, svc, s.toolAddress),
		Repository: s.repo,
		Table:      s.table,
	}
}
