package utils

import (
	"errors"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var ErrEmptyURL = errors.New("empty url")

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid", "si"}

// NormalizeURL lowercases and punycodes the host, strips credentials,
// fragments and tracking parameters, and sorts the remaining query. It
// returns the cleaned URL and its host.
func NormalizeURL(raw string) (string, string, error) {
	raw = strings.Trim(strings.TrimSpace(raw), "<>")
	if raw == "" {
		return "", "", ErrEmptyURL
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", "", ErrEmptyURL
	}
	asciiHost, err := idna.ToASCII(host)
	if err == nil {
		host = asciiHost
	}
	if port := parsed.Port(); port != "" {
		parsed.Host = host + ":" + port
	} else {
		parsed.Host = host
	}
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}
