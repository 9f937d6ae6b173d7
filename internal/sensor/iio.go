package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// IIOChannel reads a raw value from an IIO sysfs attribute such as
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type IIOChannel struct {
	Path string
}

// Raw reads and parses the attribute.
func (c IIOChannel) Raw() (int, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", c.Path, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", c.Path, err)
	}
	return v, nil
}

// IIOProbe builds a Probe from two channel indexes of one IIO device.
func IIOProbe(deviceDir string, refChannel, afterChannel int) Probe {
	return Probe{
		Reference: IIOChannel{Path: filepath.Join(deviceDir, fmt.Sprintf("in_voltage%d_raw", refChannel))},
		After:     IIOChannel{Path: filepath.Join(deviceDir, fmt.Sprintf("in_voltage%d_raw", afterChannel))},
	}
}
