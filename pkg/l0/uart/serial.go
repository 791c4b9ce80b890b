package uart

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig describes a serial device.
type SerialConfig struct {
	// Device path, e.g. /dev/ttyACM0 or COM3.
	Device string
	Baud   int
	// ReadTimeout bounds a single read; 0 blocks.
	ReadTimeout time.Duration
}

// DefaultBaud matches the bootloader UART setup.
const DefaultBaud = 115200

// OpenSerial opens a serial device in 8N1 mode.
func OpenSerial(conf SerialConfig) (*serial.Port, error) {
	if conf.Device == "" {
		return nil, fmt.Errorf("serial device not specified")
	}
	baud := conf.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        conf.Device,
		Baud:        baud,
		ReadTimeout: conf.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", conf.Device, err)
	}
	return port, nil
}
