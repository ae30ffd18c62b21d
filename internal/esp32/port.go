package esp32

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is the UART speed used by the ESP32 CSI firmware
const DefaultBaudRate = 921600

// Port is an open serial connection to an ESP32 running CSI firmware.
// Closing the port unblocks a pending Read.
type Port struct {
	serial.Port
	name string
}

// OpenPort opens the named serial device in 8N1 mode
func OpenPort(name string, baudRate int) (*Port, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open ESP32 port %s: %w", name, err)
	}

	// Drop whatever the firmware printed before we attached
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to reset ESP32 port %s: %w", name, err)
	}

	return &Port{Port: p, name: name}, nil
}

// Name returns the device path the port was opened with
func (p *Port) Name() string {
	return p.name
}

func (p *Port) String() string {
	return "serial:" + p.name
}

// ListPorts returns the serial devices present on the system
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
