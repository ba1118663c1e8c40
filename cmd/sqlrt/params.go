package main

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// parseParams turns name=value pairs into statement parameters. Integers,
// floats and booleans are converted; "null" is nil; everything else stays a
// string.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, errors.Newf("parameter %q is not name=value", p)
		}
		params[strings.TrimSpace(name)] = parseValue(value)
	}
	return params, nil
}

func parseValue(v string) any {
	if v == "null" {
		return nil
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}
