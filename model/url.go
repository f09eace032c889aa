// SPDX-License-Identifier: ice License 1.0

package model

import (
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
)

// NormalizeRelayURL canonicalises a relay address so the same relay always maps to the same key.
func NormalizeRelayURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errors.Wrapf(ErrInvalidRelayURL, "%q: %v", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", errors.Wrapf(ErrInvalidRelayURL, "%q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", errors.Wrapf(ErrInvalidRelayURL, "%q: missing host", raw)
	}
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (u.Scheme == "ws" && port == "80") || (u.Scheme == "wss" && port == "443") {
		port = ""
	}
	u.Host = host
	if port != "" {
		u.Host += ":" + port
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.Fragment = ""

	return u.String(), nil
}
