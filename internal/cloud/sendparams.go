package cloud

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// SendParams is the server's view of one log stream, fetched at the start
// of every cycle.
type SendParams struct {
	Status int
	// LastAck is the timestamp of the newest line the server holds. Zero
	// when the server has nothing for this stream.
	LastAck   time.Time
	MaxLines  int
	ServerNow time.Time
	Errno     int
}

type sendParamsJSON struct {
	Status   *int    `json:"status"`
	LastTS   *string `json:"last-ts"`
	MaxLines *int    `json:"maxlines"`
	Now      *string `json:"now"`
	Errno    *int    `json:"errno"`
}

const maxSendParamsBody = 4096

// DecodeSendParams reads a send-params response body. status is required,
// maxlines must be positive and now must be an HTTP date; last-ts may be
// null and errno is only read when status is non-zero.
func DecodeSendParams(r io.Reader) (SendParams, error) {
	var raw sendParamsJSON
	if err := json.NewDecoder(io.LimitReader(r, maxSendParamsBody)).Decode(&raw); err != nil {
		return SendParams{}, fmt.Errorf("%w: %v", ErrBadSendParams, err)
	}
	if raw.Status == nil {
		return SendParams{}, fmt.Errorf("%w: status missing", ErrBadSendParams)
	}
	p := SendParams{Status: *raw.Status}
	if raw.Errno != nil {
		p.Errno = *raw.Errno
	}
	if p.Status != 0 {
		return p, fmt.Errorf("%w: server status %d errno %d", ErrBadSendParams, p.Status, p.Errno)
	}
	if raw.MaxLines == nil || *raw.MaxLines <= 0 {
		return p, fmt.Errorf("%w: maxlines missing or not positive", ErrBadSendParams)
	}
	p.MaxLines = *raw.MaxLines
	if raw.Now == nil {
		return p, fmt.Errorf("%w: now missing", ErrBadSendParams)
	}
	now, err := ParseHTTPDate(*raw.Now)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrBadSendParams, err)
	}
	p.ServerNow = now
	if raw.LastTS != nil && *raw.LastTS != "" {
		last, err := ParseHTTPDate(*raw.LastTS)
		if err != nil {
			return p, fmt.Errorf("%w: last-ts: %v", ErrBadSendParams, err)
		}
		p.LastAck = last
	}
	return p, nil
}
