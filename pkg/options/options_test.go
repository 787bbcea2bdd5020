package options

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	all := []IOptions{NewBusOptions(), NewRunOptions(), NewMqttOptions(), NewS3Options(), NewHttpOptions()}
	for _, o := range all {
		assert.Empty(t, o.Validate(), "%T", o)
	}
}

func TestBusOptionsValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(o *BusOptions)
		errs   int
	}{
		"unknown link":     {mutate: func(o *BusOptions) { o.Link = "socketcan" }, errs: 1},
		"slcan needs port": {mutate: func(o *BusOptions) { o.Port = "" }, errs: 1},
		"mqtt needs none":  {mutate: func(o *BusOptions) { o.Link = LinkMQTT; o.Port = "" }, errs: 0},
		"odd bitrate":      {mutate: func(o *BusOptions) { o.Bitrate = 333333 }, errs: 1},
		"null address":     {mutate: func(o *BusOptions) { o.ToolAddress = 0xFE }, errs: 1},
		"zero timeouts":    {mutate: func(o *BusOptions) { o.ResponseTimeout = 0; o.BAMTimeout = 0 }, errs: 2},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			o := NewBusOptions()
			tc.mutate(o)
			assert.Len(t, o.Validate(), tc.errs)
		})
	}
}

func TestRunOptionsFlags(t *testing.T) {
	o := NewRunOptions()
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--run.model-year=2018", "--run.fuel-type=gasoline", "--run.assume-yes"}))
	assert.Equal(t, 2018, o.ModelYear)
	assert.Equal(t, "gasoline", o.FuelType)
	assert.True(t, o.AssumeYes)
	assert.Empty(t, o.Validate())

	o.FuelType = "coal"
	o.EngineCount = 3
	assert.Len(t, o.Validate(), 2)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("127.0.0.1:9384"))
	assert.NoError(t, ValidateAddress(":8080"))
	assert.Error(t, ValidateAddress("localhost"))
	assert.Error(t, ValidateAddress("localhost:http"))
	assert.Error(t, ValidateAddress("localhost:70000"))
}

func TestMqttClientConfig(t *testing.T) {
	o := NewMqttOptions()
	o.ClientID = "bench"
	cfg := o.ToClientConfig("link")
	assert.Equal(t, "bench-link", cfg.ClientID)
	assert.EqualValues(t, 30, cfg.KeepAlive)
	assert.True(t, cfg.CleanStart)
}

func TestRunOptionsParts(t *testing.T) {
	o := NewRunOptions()
	assert.Equal(t, []int{1}, o.Parts)

	o.Parts = nil
	assert.Len(t, o.Validate(), 1)

	o.Parts = []int{0, 1}
	assert.Len(t, o.Validate(), 1)
}
