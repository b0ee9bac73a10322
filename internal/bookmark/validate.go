package bookmark

import (
	"errors"
	"fmt"
	"net/url"

	"linkhoard/internal/security/netutil"
)

// ErrInvalidURL is returned for unparsable, non-HTTP(S), or private-network
// URLs. Entry points fold it into IngestResult.Errors rather than aborting.
var ErrInvalidURL = errors.New("invalid URL")

// ValidateURL parses raw as an absolute HTTP(S) URL and rejects targets on
// private networks. Pure function, no DNS lookups.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: must use HTTP or HTTPS", ErrInvalidURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if netutil.IsPrivateHost(u.Hostname()) {
		return nil, fmt.Errorf("%w: private network URLs are not allowed", ErrInvalidURL)
	}
	return u, nil
}
