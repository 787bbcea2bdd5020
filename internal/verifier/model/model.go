// Package model holds the value types shared by the verifier packages:
// outcomes, operator prompts and the declared vehicle.
package model

import (
	"fmt"
	"time"
)

// Outcome is the verdict attached to a reported message.
type Outcome int

const (
	Pass Outcome = iota
	Info
	Warn
	Fail
	Abort
)

var outcomeNames = [...]string{"PASS", "INFO", "WARN", "FAIL", "ABORT"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	for i, name := range outcomeNames {
		if name == string(b) {
			*o = Outcome(i)
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Outcomes lists every outcome in severity order.
func Outcomes() []Outcome { return []Outcome{Pass, Info, Warn, Fail, Abort} }

// Result is one reported outcome. Results are append-only for a run.
type Result struct {
	Part    int       `json:"part"`
	Step    int       `json:"step"`
	Outcome Outcome   `json:"outcome"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %s", r.Outcome, r.Message)
}

// Section formats the citation id "<part>.<step>.<letters>".
func Section(part, step int, letters string) string {
	return fmt.Sprintf("%d.%d.%s", part, step, letters)
}

// Cite prefixes message with the citation id of section.
func Cite(section, message string) string {
	return section + " - " + message
}

// MessageType is the severity of an operator prompt.
type MessageType int

const (
	MessageInfo MessageType = iota
	MessageWarning
	MessageError
	MessageQuestion
)

func (t MessageType) String() string {
	switch t {
	case MessageInfo:
		return "INFO"
	case MessageWarning:
		return "WARNING"
	case MessageError:
		return "ERROR"
	case MessageQuestion:
		return "QUESTION"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Answer is the operator's reply to a prompt.
type Answer int

const (
	Yes Answer = iota
	No
	Cancel
)

func (a Answer) String() string {
	switch a {
	case Yes:
		return "YES"
	case No:
		return "NO"
	}
	return "CANCEL"
}

// FuelType is the declared fuel of the vehicle.
type FuelType string

const (
	Diesel         FuelType = "diesel"
	Gasoline       FuelType = "gasoline"
	NaturalGas     FuelType = "natural-gas"
	Propane        FuelType = "propane"
	Ethanol        FuelType = "ethanol"
	Methanol       FuelType = "methanol"
	Electric       FuelType = "electric"
	HybridDiesel   FuelType = "hybrid-diesel"
	HybridGasoline FuelType = "hybrid-gasoline"
)

// CompressionIgnition reports whether the engine is a compression ignition
// (diesel cycle) engine.
func (f FuelType) CompressionIgnition() bool {
	return f == Diesel || f == HybridDiesel
}

// VehicleInformation is what the operator declares about the vehicle under
// test. It is captured once per run.
type VehicleInformation struct {
	VIN         string   `json:"vin,omitempty"`
	ModelYear   int      `json:"modelYear"`
	FuelType    FuelType `json:"fuelType"`
	EngineCount int      `json:"engineCount"`
}

// Before2019 reports whether rules introduced with the 2019 model year are
// not yet applicable.
func (v VehicleInformation) Before2019() bool {
	return v.ModelYear < 2019
}

func (v VehicleInformation) String() string {
	return fmt.Sprintf("MY%d %s, %d engine(s)", v.ModelYear, v.FuelType, v.EngineCount)
}
