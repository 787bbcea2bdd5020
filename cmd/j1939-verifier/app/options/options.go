package options

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/obdverify/pkg/log"
	genericoptions "github.com/autopeer-io/obdverify/pkg/options"
)

// envPrefix prefixes environment overrides, e.g. J1939_VERIFIER_BUS_PORT.
const envPrefix = "J1939_VERIFIER"

type VerifierOptions struct {
	// ConfigFile is a YAML or JSON file holding any of the options below.
	ConfigFile string `json:"-" mapstructure:"-"`

	BusOptions  *genericoptions.BusOptions  `json:"bus" mapstructure:"bus"`
	RunOptions  *genericoptions.RunOptions  `json:"run" mapstructure:"run"`
	MqttOptions *genericoptions.MqttOptions `json:"mqtt" mapstructure:"mqtt"`
	S3Options   *genericoptions.S3Options   `json:"s3" mapstructure:"s3"`
	HttpOptions *genericoptions.HttpOptions `json:"http" mapstructure:"http"`
	LogOptions  *log.Options                `json:"log" mapstructure:"log"`
}

func NewVerifierOptions() *VerifierOptions {
	return &VerifierOptions{
		BusOptions:  genericoptions.NewBusOptions(),
		RunOptions:  genericoptions.NewRunOptions(),
		MqttOptions: genericoptions.NewMqttOptions(),
		S3Options:   genericoptions.NewS3Options(),
		HttpOptions: genericoptions.NewHttpOptions(),
		LogOptions:  log.NewOptions(),
	}
}

func (o *VerifierOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("Verifier")
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Path to a YAML or JSON file with option values. Flags take precedence.")

	o.BusOptions.AddFlags(fss.FlagSet("Bus"))
	o.RunOptions.AddFlags(fss.FlagSet("Run"))
	o.MqttOptions.AddFlags(fss.FlagSet("MQTT"))
	o.S3Options.AddFlags(fss.FlagSet("S3"))
	o.HttpOptions.AddFlags(fss.FlagSet("HTTP"))
	o.LogOptions.AddFlags(fss.FlagSet("Log"))

	return fss
}

// Load merges the config file and J1939_VERIFIER_* environment variables
// into o. Flags set on the command line win over both.
func (o *VerifierOptions) Load(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	if o.ConfigFile != "" {
		v.SetConfigFile(o.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", o.ConfigFile, err)
		}
	}
	if err := v.Unmarshal(o); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}

// Validate checks every option group and reports all problems at once.
func (o *VerifierOptions) Validate() error {
	var errs []error
	errs = append(errs, o.BusOptions.Validate()...)
	errs = append(errs, o.RunOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)

	// MQTT and S3 only matter when something uses them.
	if o.UsesMQTT() {
		errs = append(errs, o.MqttOptions.Validate()...)
	}
	if o.RunOptions.Archive {
		errs = append(errs, o.S3Options.Validate()...)
	}
	return utilerrors.NewAggregate(errs)
}

// UsesMQTT reports whether the run needs a broker connection.
func (o *VerifierOptions) UsesMQTT() bool {
	return o.BusOptions.Link == genericoptions.LinkMQTT || o.RunOptions.Publish
}
