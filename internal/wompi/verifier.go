package wompi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Verifier checks event authenticity and freshness against the configured
// Wompi environment.
type Verifier struct {
	// Secret is the events secret for the configured environment.
	Secret string
	// MaxEventAge bounds how far in the past an event timestamp may be.
	MaxEventAge time.Duration
	// Environment is "test" or "prod" and must match the event's environment.
	Environment string
}

// Verify runs the full gate: checksum, then age, then environment. The first
// failing check wins so callers can map each to its own response.
func (v Verifier) Verify(ev *Event, now time.Time) error {
	if !v.ChecksumMatches(ev) {
		return ErrInvalidChecksum
	}
	if err := v.CheckAge(ev, now); err != nil {
		return err
	}
	return v.CheckEnvironment(ev)
}

// ChecksumMatches recomputes the event checksum and compares it to the signed
// one. Comparison is case insensitive because Wompi sends uppercase hex.
func (v Verifier) ChecksumMatches(ev *Event) bool {
	computed, err := ComputeChecksum(ev, v.Secret)
	if err != nil {
		return false
	}
	return strings.EqualFold(computed, ev.Signature.Checksum)
}

// CheckAge rejects events whose timestamp is older than MaxEventAge. Future
// timestamps are tolerated; provider clocks routinely run slightly ahead.
func (v Verifier) CheckAge(ev *Event, now time.Time) error {
	age := now.Sub(time.Unix(ev.Timestamp, 0))
	if age > v.MaxEventAge {
		return fmt.Errorf("%w: event is %s old", ErrEventTooOld, age.Round(time.Second))
	}
	return nil
}

// CheckEnvironment ensures a test event never reconciles prod state and vice
// versa.
func (v Verifier) CheckEnvironment(ev *Event) error {
	if ev.Environment != v.Environment {
		return fmt.Errorf("%w: got %q, want %q", ErrEnvironmentMismatch, ev.Environment, v.Environment)
	}
	return nil
}

// ComputeChecksum concatenates the values at the signed property paths, the
// decimal timestamp and the secret, and hashes the result. Paths resolve
// against the raw data payload; a missing path contributes the empty string.
func ComputeChecksum(ev *Event, secret string) (string, error) {
	data, err := decodeData(ev.Data)
	if err != nil {
		return "", fmt.Errorf("decode event data: %w", err)
	}

	var sb strings.Builder
	for _, path := range ev.Signature.Properties {
		sb.WriteString(stringifyValue(lookupPath(data, path)))
	}
	sb.WriteString(strconv.FormatInt(ev.Timestamp, 10))
	sb.WriteString(secret)

	sum := sha256.Sum256([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// decodeData keeps numbers as json.Number so a checksum over a large amount
// never picks up float formatting artifacts.
func decodeData(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func lookupPath(data map[string]any, path string) any {
	current := any(data)
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = obj[key]
		if !ok {
			return nil
		}
	}
	return current
}

func stringifyValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
