package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/fallwatch/internal/pipeline"
)

// PortOptions describes the serial line to the siren controller.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// PortOpener opens a serial port. Replaced in tests.
type PortOpener func(path string, mode *serial.Mode) (io.WriteCloser, error)

func openSerial(path string, mode *serial.Mode) (io.WriteCloser, error) {
	return serial.Open(path, mode)
}

// Siren writes one "FALL <stream> <person>" line per alert to a serial
// controller that drives a local sounder.
type Siren struct {
	mu   sync.Mutex
	port io.WriteCloser
	path string
}

// OpenSiren opens the siren controller at path.
func OpenSiren(path string, opts PortOptions) (*Siren, error) {
	return openSiren(path, opts, openSerial)
}

func openSiren(path string, opts PortOptions, open PortOpener) (*Siren, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open siren port %s: %w", path, err)
	}
	diagf("Siren on %s at %d baud", path, mode.BaudRate)
	return &Siren{port: port, path: path}, nil
}

// NewSiren drives a siren over an already-open writer.
func NewSiren(w io.WriteCloser) *Siren {
	return &Siren{port: w}
}

// Deliver writes the alert line.
func (s *Siren) Deliver(ctx context.Context, a pipeline.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line := SirenLine(a)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return fmt.Errorf("siren port closed")
	}
	if _, err := s.port.Write([]byte(line)); err != nil {
		opsf("Siren write to %s failed: %v", s.path, err)
		return fmt.Errorf("siren write failed: %w", err)
	}
	return nil
}

// SirenLine formats the controller command for an alert. The controller
// reads one command per line, so spaces in the stream name become
// underscores and control characters are dropped.
func SirenLine(a pipeline.Alert) string {
	stream := strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, a.StreamID)
	return fmt.Sprintf("FALL %s %d\n", stream, a.PersonID)
}

// Close closes the serial port.
func (s *Siren) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
