package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var whenParser = buildWhenParser()

func buildWhenParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// resolveLeaseExpiresAt converts a convenience duration expression (e.g.
// "in 2 hours") to RFC3339 so the core's parser — which only ever
// accepts RFC3339 — never has to know this flag exists. A raw value
// that already parses as RFC3339 is passed straight through.
func resolveLeaseExpiresAt(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if _, err := time.Parse(time.RFC3339, raw); err == nil {
		return raw, nil
	}
	result, err := whenParser.Parse(raw, time.Now())
	if err != nil {
		return "", fmt.Errorf("parsing lease-expires-at %q: %w", raw, err)
	}
	if result == nil {
		return "", fmt.Errorf("lease-expires-at %q is neither RFC3339 nor a recognizable informal duration", raw)
	}
	return result.Time.Format(time.RFC3339), nil
}
