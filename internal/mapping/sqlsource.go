package mapping

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ParameterMode tells whether a parameter is sent, received or both.
type ParameterMode int

const (
	ModeIn ParameterMode = iota
	ModeOut
	ModeInOut
)

func (m ParameterMode) String() string {
	switch m {
	case ModeOut:
		return "OUT"
	case ModeInOut:
		return "INOUT"
	}
	return "IN"
}

// ParameterMapping binds one placeholder to a property of the parameter object.
type ParameterMapping struct {
	Property string
	Mode     ParameterMode
}

// BoundSQL is rendered SQL with its ordered parameter mappings.
type BoundSQL struct {
	SQL               string
	ParameterMappings []ParameterMapping
	Parameters        map[string]any
}

// Value returns the parameter object's value for property.
func (b *BoundSQL) Value(property string) any {
	if b.Parameters == nil {
		return nil
	}
	return b.Parameters[property]
}

// SQLSource renders a statement for a parameter object.
type SQLSource interface {
	BoundSQL(params map[string]any) (*BoundSQL, error)
}

// StaticSQLSource holds SQL whose #{name} placeholders were parsed once.
// A placeholder may declare its mode: #{total, mode=OUT}.
type StaticSQLSource struct {
	sql      string
	mappings []ParameterMapping
}

// NewStaticSQLSource parses text. Placeholders become '?' for prepared
// statements and '@name' for callable ones.
func NewStaticSQLSource(text string, st StatementType) (*StaticSQLSource, error) {
	var b strings.Builder
	var mappings []ParameterMapping
	rest := text
	for {
		i := strings.Index(rest, "#{")
		if i < 0 {
			b.WriteString(rest)
			break
		}
		j := strings.IndexByte(rest[i:], '}')
		if j < 0 {
			return nil, errors.Newf("unterminated placeholder in %q", text)
		}
		b.WriteString(rest[:i])
		pm, err := parsePlaceholder(rest[i+2 : i+j])
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, pm)
		if st == Callable {
			b.WriteString("@" + pm.Property)
		} else {
			b.WriteByte('?')
		}
		rest = rest[i+j+1:]
	}
	return &StaticSQLSource{sql: b.String(), mappings: mappings}, nil
}

func parsePlaceholder(body string) (ParameterMapping, error) {
	parts := strings.Split(body, ",")
	pm := ParameterMapping{Property: strings.TrimSpace(parts[0])}
	if pm.Property == "" {
		return pm, errors.New("empty placeholder")
	}
	for _, attr := range parts[1:] {
		name, value, ok := strings.Cut(strings.TrimSpace(attr), "=")
		if !ok || strings.TrimSpace(name) != "mode" {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(value)) {
		case "IN":
			pm.Mode = ModeIn
		case "OUT":
			pm.Mode = ModeOut
		case "INOUT":
			pm.Mode = ModeInOut
		default:
			return pm, errors.Newf("unknown parameter mode %q for %s", value, pm.Property)
		}
	}
	return pm, nil
}

// SQL returns the rendered text.
func (s *StaticSQLSource) SQL() string { return s.sql }

// BoundSQL binds params without copying them.
func (s *StaticSQLSource) BoundSQL(params map[string]any) (*BoundSQL, error) {
	return &BoundSQL{SQL: s.sql, ParameterMappings: s.mappings, Parameters: params}, nil
}
