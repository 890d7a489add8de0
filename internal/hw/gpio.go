package hw

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GPIOPin reads and writes a sysfs GPIO value file. The pin must be
// exported and its direction set before the process starts, typically
// from a udev rule or init script.
type GPIOPin struct {
	path string
}

// NewGPIOPin returns a pin backed by /sys/class/gpio/gpio<n>/value.
func NewGPIOPin(n int) *GPIOPin {
	return &GPIOPin{path: filepath.Join("/sys/class/gpio", fmt.Sprintf("gpio%d", n), "value")}
}

// NewGPIOPinAt returns a pin backed by an explicit value file path.
func NewGPIOPinAt(path string) *GPIOPin {
	return &GPIOPin{path: path}
}

func (p *GPIOPin) Read() (bool, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return false, fmt.Errorf("gpio read %s: %w", p.path, err)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

func (p *GPIOPin) Set(high bool) error {
	v := "0"
	if high {
		v = "1"
	}
	if err := os.WriteFile(p.path, []byte(v), 0644); err != nil {
		return fmt.Errorf("gpio write %s: %w", p.path, err)
	}
	return nil
}
