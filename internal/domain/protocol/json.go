package protocol

import (
	"bytes"
	"errors"
)

var errNotJSON = errors.New("payload is not JSON")

// findJSONStart scans payload for the start of a JSON object or array.
// Captured payloads sometimes carry transport framing before the JSON body,
// so we skip past it.
func findJSONStart(data []byte) int {
	// Fast path: payload starts with JSON
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		return 0
	}

	// Look for HTTP body separator (double CRLF)
	if idx := bytes.Index(data, []byte("\r\n\r\n")); idx >= 0 {
		bodyStart := idx + 4
		if bodyStart < len(data) && (data[bodyStart] == '{' || data[bodyStart] == '[') {
			return bodyStart
		}
	}

	// Look for double LF (non-standard framing)
	if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		bodyStart := idx + 2
		if bodyStart < len(data) && (data[bodyStart] == '{' || data[bodyStart] == '[') {
			return bodyStart
		}
	}

	// Scan for first '{' or '['
	for i, b := range data {
		if b == '{' || b == '[' {
			return i
		}
	}

	return -1
}

// jsonBody returns the JSON portion of the payload or a ParseError when no
// JSON object or array is present.
func jsonBody(raw []byte) ([]byte, *ParseError) {
	start := findJSONStart(raw)
	if start < 0 {
		return nil, &ParseError{Code: "NOT_JSON", Message: errNotJSON.Error()}
	}
	return raw[start:], nil
}

// getString pulls a string value out of a decoded JSON object, returning ""
// when the key is absent or not a string.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// getMap pulls a nested object out of a decoded JSON object, returning nil
// when the key is absent or not an object.
func getMap(m map[string]interface{}, key string) map[string]interface{} {
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}
