package transport

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/obdverify/internal/pkg/metrics"
	"github.com/autopeer-io/obdverify/pkg/log"
	"github.com/autopeer-io/obdverify/pkg/options"
)

const frameBuffer = 1024

var bitrateCodes = map[int]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// PortInfo describes a serial port that may host a CAN adapter.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

// ListPorts returns the serial ports of the host.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	var result []PortInfo
	for _, p := range ports {
		result = append(result, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
		})
	}
	return result, nil
}

// SLCAN is a Lawicel (SLCAN) serial CAN adapter.
type SLCAN struct {
	port   io.ReadWriteCloser
	clock  clock.PassiveClock
	frames chan RawFrame
	log    log.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

var _ Link = (*SLCAN)(nil)

// OpenSLCAN opens the serial port of o and starts the adapter.
func OpenSLCAN(o *options.BusOptions) (*SLCAN, error) {
	mode := &serial.Mode{
		BaudRate: o.SerialBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(o.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.Port, err)
	}
	s, err := NewSLCAN(port, o.Bitrate, nil)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return s, nil
}

// NewSLCAN configures the adapter behind port for bitrate, opens the channel
// and starts reading.
func NewSLCAN(port io.ReadWriteCloser, bitrate int, clk clock.PassiveClock) (*SLCAN, error) {
	code, ok := bitrateCodes[bitrate]
	if !ok {
		return nil, fmt.Errorf("bitrate %d is not supported by slcan", bitrate)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &SLCAN{
		port:   port,
		clock:  clk,
		frames: make(chan RawFrame, frameBuffer),
		log:    log.WithName("slcan"),
	}
	for _, cmd := range []string{"C", code, "O"} {
		if err := s.write(cmd); err != nil {
			return nil, fmt.Errorf("configure adapter: %w", err)
		}
	}

	go s.readLoop()
	return s, nil
}

func (s *SLCAN) Frames() <-chan RawFrame { return s.frames }

func (s *SLCAN) Send(_ context.Context, f RawFrame) error {
	if len(f.Data) > 8 {
		return fmt.Errorf("frame %08X: %d bytes do not fit a CAN frame", f.ID, len(f.Data))
	}
	return s.write(FormatSLCAN(f))
}

// Close closes the channel and the serial port.
func (s *SLCAN) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.write("C")
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		err = s.port.Close()
	})
	return err
}

func (s *SLCAN) write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrLinkClosed
	}
	_, err := io.WriteString(s.port, line+"\r")
	return err
}

func (s *SLCAN) readLoop() {
	defer close(s.frames)

	r := bufio.NewReader(s.port)
	for {
		line, err := r.ReadString('\r')
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Error(err, "Serial read failed")
			}
			return
		}
		// BEL is the adapter's negative reply and carries no line ending.
		line = strings.TrimLeft(strings.TrimSuffix(line, "\r"), "\a")
		if line == "" || line[0] != 'T' {
			continue
		}
		f, err := ParseSLCAN(line)
		if err != nil {
			s.log.Debug("Dropping unparsable line", "line", line, "error", err.Error())
			continue
		}
		f.Timestamp = s.clock.Now()
		select {
		case s.frames <- f:
		default:
			metrics.DroppedFrames.Inc()
		}
	}
}

// FormatSLCAN renders f as an extended frame transmit command without the
// trailing carriage return.
func FormatSLCAN(f RawFrame) string {
	return fmt.Sprintf("T%08X%d%s", f.ID&0x1FFFFFFF, len(f.Data), strings.ToUpper(hex.EncodeToString(f.Data)))
}

// ParseSLCAN parses an extended frame line "Tiiiiiiiildd..". A trailing
// adapter timestamp is ignored.
func ParseSLCAN(line string) (RawFrame, error) {
	if len(line) < 10 || line[0] != 'T' {
		return RawFrame{}, fmt.Errorf("not an extended frame: %q", line)
	}
	id, err := strconv.ParseUint(line[1:9], 16, 32)
	if err != nil {
		return RawFrame{}, fmt.Errorf("identifier: %w", err)
	}
	dlc := int(line[9] - '0')
	if dlc < 0 || dlc > 8 {
		return RawFrame{}, fmt.Errorf("length %q out of range", line[9])
	}
	if len(line) < 10+2*dlc {
		return RawFrame{}, fmt.Errorf("line %q shorter than its length %d", line, dlc)
	}
	data, err := hex.DecodeString(line[10 : 10+2*dlc])
	if err != nil {
		return RawFrame{}, fmt.Errorf("data: %w", err)
	}
	return RawFrame{ID: uint32(id) & 0x1FFFFFFF, Data: data}, nil
}
