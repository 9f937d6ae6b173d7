package params

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	maxBaseURLLen = 128
	certHashLen   = 40
	maxCredLen    = 64
)

// CloudConf is the cloud archive account used by the sync engine.
type CloudConf struct {
	BaseURL  string
	CertHash string // hex SHA-1 of the server leaf certificate, empty = no pinning
	Login    string
	Pass     string
	Enabled  bool
}

type cloudJSON struct {
	BaseURL  *string `json:"baseUrl"`
	CertHash *string `json:"certHash"`
	Login    *string `json:"login"`
	Pass     *string `json:"pass"`
	Enabled  *int    `json:"enabled"`
}

// Validate checks URL scheme, field lengths and credentials.
func (c CloudConf) Validate() error {
	if c.BaseURL == "" || len(c.BaseURL) > maxBaseURLLen {
		return fmt.Errorf("%w: baseUrl length must be 1..%d", ErrInvalid, maxBaseURLLen)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: baseUrl must be an http or https URL", ErrInvalid)
	}
	if c.CertHash != "" {
		if len(c.CertHash) != certHashLen {
			return fmt.Errorf("%w: certHash must be %d hex characters", ErrInvalid, certHashLen)
		}
		if _, err := hex.DecodeString(c.CertHash); err != nil {
			return fmt.Errorf("%w: certHash is not hex", ErrInvalid)
		}
	}
	if strings.TrimSpace(c.Login) == "" || len(c.Login) > maxCredLen {
		return fmt.Errorf("%w: login length must be 1..%d", ErrInvalid, maxCredLen)
	}
	if strings.TrimSpace(c.Pass) == "" || len(c.Pass) > maxCredLen {
		return fmt.Errorf("%w: pass length must be 1..%d", ErrInvalid, maxCredLen)
	}
	return nil
}

// Redacted returns a copy without the password, for display.
func (c CloudConf) Redacted() CloudConf {
	c.Pass = ""
	return c
}

func (c CloudConf) MarshalJSON() ([]byte, error) {
	enabled := 0
	if c.Enabled {
		enabled = 1
	}
	return json.Marshal(cloudJSON{
		BaseURL:  &c.BaseURL,
		CertHash: &c.CertHash,
		Login:    &c.Login,
		Pass:     &c.Pass,
		Enabled:  &enabled,
	})
}

func (c *CloudConf) UnmarshalJSON(data []byte) error {
	var w cloudJSON
	if err := strictDecode(data, &w); err != nil {
		return err
	}
	switch {
	case w.BaseURL == nil:
		return fmt.Errorf("%w: baseUrl", ErrMissingField)
	case w.CertHash == nil:
		return fmt.Errorf("%w: certHash", ErrMissingField)
	case w.Login == nil:
		return fmt.Errorf("%w: login", ErrMissingField)
	case w.Pass == nil:
		return fmt.Errorf("%w: pass", ErrMissingField)
	case w.Enabled == nil:
		return fmt.Errorf("%w: enabled", ErrMissingField)
	}
	*c = CloudConf{
		BaseURL:  *w.BaseURL,
		CertHash: strings.ToLower(*w.CertHash),
		Login:    *w.Login,
		Pass:     *w.Pass,
		Enabled:  *w.Enabled != 0,
	}
	return nil
}
