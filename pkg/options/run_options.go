package options

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RunOptions)(nil)

// Fuel types accepted by --run.fuel-type.
var FuelTypes = []string{"diesel", "gasoline", "natural-gas", "propane", "ethanol", "methanol", "electric", "hybrid-diesel", "hybrid-gasoline"}

// RunOptions describe the vehicle under test and how the run behaves.
type RunOptions struct {
	// ModelYear is the declared engine model year.
	ModelYear int `json:"model-year" mapstructure:"model-year"`

	FuelType string `json:"fuel-type" mapstructure:"fuel-type"`

	EngineCount int `json:"engine-count" mapstructure:"engine-count"`

	VIN string `json:"vin" mapstructure:"vin"`

	// MetadataFile overrides or extends the embedded PGN table.
	MetadataFile string `json:"metadata-file" mapstructure:"metadata-file"`

	// ReportDir is where the text report is written.
	ReportDir string `json:"report-dir" mapstructure:"report-dir"`

	// AssumeYes answers every operator prompt with yes.
	AssumeYes bool `json:"assume-yes" mapstructure:"assume-yes"`

	// KeyOffWait is how long the operator is given for key cycles.
	KeyOffWait time.Duration `json:"key-off-wait" mapstructure:"key-off-wait"`

	// Archive uploads the finished report to object storage.
	Archive bool `json:"archive" mapstructure:"archive"`

	// Publish streams outcomes to the MQTT broker.
	Publish bool `json:"publish" mapstructure:"publish"`

	// Parts lists the test parts to run, in order.
	Parts []int `json:"parts" mapstructure:"parts"`
}

// NewRunOptions returns defaults for a current model year diesel truck.
func NewRunOptions() *RunOptions {
	return &RunOptions{
		ModelYear:   2024,
		FuelType:    "diesel",
		EngineCount: 1,
		ReportDir:   ".",
		KeyOffWait:  30 * time.Second,
		Parts:       []int{1},
	}
}

// Validate checks the vehicle description.
func (o *RunOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ModelYear < 1990 || o.ModelYear > 2050 {
		errs = append(errs, fmt.Errorf("--run.model-year %d is out of range", o.ModelYear))
	}
	if !slices.Contains(FuelTypes, o.FuelType) {
		errs = append(errs, fmt.Errorf("--run.fuel-type %q is unknown", o.FuelType))
	}
	if o.EngineCount < 1 || o.EngineCount > 2 {
		errs = append(errs, fmt.Errorf("--run.engine-count must be 1 or 2"))
	}
	if o.VIN != "" && len(o.VIN) != 17 {
		errs = append(errs, fmt.Errorf("--run.vin must be 17 characters"))
	}
	if o.ReportDir == "" {
		errs = append(errs, fmt.Errorf("--run.report-dir is required"))
	}
	if len(o.Parts) == 0 {
		errs = append(errs, fmt.Errorf("--run.parts must name at least one part"))
	}
	for _, p := range o.Parts {
		if p < 1 {
			errs = append(errs, fmt.Errorf("--run.parts: invalid part %d", p))
		}
	}
	return errs
}

// AddFlags adds the run flags to fs.
func (o *RunOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.ModelYear, "run.model-year", o.ModelYear, "Engine model year of the vehicle under test.")
	fs.StringVar(&o.FuelType, "run.fuel-type", o.FuelType, fmt.Sprintf("Fuel type of the vehicle, one of %v.", FuelTypes))
	fs.IntVar(&o.EngineCount, "run.engine-count", o.EngineCount, "Number of engines on the vehicle.")
	fs.StringVar(&o.VIN, "run.vin", o.VIN, "Vehicle identification number recorded in the report.")
	fs.StringVar(&o.MetadataFile, "run.metadata-file", o.MetadataFile, "YAML file with PGN definitions layered over the built-in table.")
	fs.StringVar(&o.ReportDir, "run.report-dir", o.ReportDir, "Directory the text report is written to.")
	fs.BoolVar(&o.AssumeYes, "run.assume-yes", o.AssumeYes, "Answer yes to every operator prompt.")
	fs.DurationVar(&o.KeyOffWait, "run.key-off-wait", o.KeyOffWait, "Time given to the operator for each key cycle.")
	fs.BoolVar(&o.Archive, "run.archive", o.Archive, "Upload the report to object storage when the run ends.")
	fs.BoolVar(&o.Publish, "run.publish", o.Publish, "Publish outcomes to the MQTT broker while the run progresses.")
	fs.IntSliceVar(&o.Parts, "run.parts", o.Parts, "Test parts to run, in order.")
}
