//go:build !linux

package clock

import (
	"errors"
	"time"
)

func setSystemClock(time.Time) error {
	return errors.ErrUnsupported
}
