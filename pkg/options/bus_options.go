package options

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*BusOptions)(nil)

// Link kinds understood by the transport.
const (
	LinkSLCAN = "slcan"
	LinkMQTT  = "mqtt"
)

// BusOptions configure how the verifier reaches the vehicle bus.
type BusOptions struct {
	// Link selects the adapter: "slcan" for a serial CAN adapter, "mqtt" for
	// a CAN gateway bridged over MQTT.
	Link string `json:"link" mapstructure:"link"`

	// Port is the serial device of the SLCAN adapter.
	Port string `json:"port" mapstructure:"port"`

	// SerialBaud is the host-side serial speed of the adapter.
	SerialBaud int `json:"serial-baud" mapstructure:"serial-baud"`

	// Bitrate is the CAN bitrate, 250000 or 500000 for J1939.
	Bitrate int `json:"bitrate" mapstructure:"bitrate"`

	// ToolAddress is the source address the verifier claims.
	ToolAddress uint8 `json:"tool-address" mapstructure:"tool-address"`

	// ResponseTimeout is how long a request window stays open.
	ResponseTimeout time.Duration `json:"response-timeout" mapstructure:"response-timeout"`

	// BAMTimeout is the longest gap tolerated between transport protocol
	// data packets.
	BAMTimeout time.Duration `json:"bam-timeout" mapstructure:"bam-timeout"`
}

// NewBusOptions returns the J1939 defaults.
func NewBusOptions() *BusOptions {
	return &BusOptions{
		Link:            LinkSLCAN,
		Port:            "/dev/ttyACM0",
		SerialBaud:      115200,
		Bitrate:         250000,
		ToolAddress:     0xF9,
		ResponseTimeout: 200 * time.Millisecond,
		BAMTimeout:      750 * time.Millisecond,
	}
}

// Validate checks the link selection and timing values.
func (o *BusOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if !slices.Contains([]string{LinkSLCAN, LinkMQTT}, o.Link) {
		errs = append(errs, fmt.Errorf("--bus.link must be %q or %q, got %q", LinkSLCAN, LinkMQTT, o.Link))
	}
	if o.Link == LinkSLCAN && o.Port == "" {
		errs = append(errs, fmt.Errorf("--bus.port is required for the %s link", LinkSLCAN))
	}
	if !slices.Contains([]int{125000, 250000, 500000, 1000000}, o.Bitrate) {
		errs = append(errs, fmt.Errorf("--bus.bitrate %d is not supported", o.Bitrate))
	}
	if o.ToolAddress >= 0xFE {
		errs = append(errs, fmt.Errorf("--bus.tool-address 0x%02X is reserved", o.ToolAddress))
	}
	if o.ResponseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--bus.response-timeout must be positive"))
	}
	if o.BAMTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--bus.bam-timeout must be positive"))
	}
	return errs
}

// AddFlags adds the bus flags to fs.
func (o *BusOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Link, "bus.link", o.Link, "Bus adapter: 'slcan' (serial CAN adapter) or 'mqtt' (CAN gateway over MQTT).")
	fs.StringVar(&o.Port, "bus.port", o.Port, "Serial device of the SLCAN adapter.")
	fs.IntVar(&o.SerialBaud, "bus.serial-baud", o.SerialBaud, "Serial speed of the SLCAN adapter.")
	fs.IntVar(&o.Bitrate, "bus.bitrate", o.Bitrate, "CAN bitrate of the vehicle bus.")
	fs.Uint8Var(&o.ToolAddress, "bus.tool-address", o.ToolAddress, "J1939 source address used by the verifier.")
	fs.DurationVar(&o.ResponseTimeout, "bus.response-timeout", o.ResponseTimeout, "How long to wait for responses to a request.")
	fs.DurationVar(&o.BAMTimeout, "bus.bam-timeout", o.BAMTimeout, "Maximum gap between transport protocol data packets.")
}
