package util

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ValentinKolb/kvx/lib/value"
)

// FormatValue renders a command result the way redis-cli does, e.g. (integer) 2 or 1) "a".
func FormatValue(v value.Value) string {
	return formatValue(v, "")
}

func formatValue(v value.Value, indent string) string {
	switch x := value.Normalize(v).(type) {
	case value.Nil:
		return "(nil)"
	case value.Number:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return fmt.Sprintf("(integer) %d", int64(f))
		}
		return "(double) " + x.String()
	case value.String:
		return strconv.Quote(string(x))
	case *value.Hash:
		fields := x.Fields()
		if len(fields) == 0 {
			return "(empty hash)"
		}
		values := x.Get(fields...)
		lines := make([]string, len(fields))
		for i, field := range fields {
			lines[i] = fmt.Sprintf("%d# %s => %s", i+1, strconv.Quote(field), formatValue(values[field], indent+"   "))
		}
		return strings.Join(lines, "\n"+indent)
	case value.Set:
		if len(x) == 0 {
			return "(empty set)"
		}
		lines := make([]string, len(x))
		for i, m := range x {
			lines[i] = fmt.Sprintf("%d) %s", i+1, formatValue(m, indent+"   "))
		}
		return strings.Join(lines, "\n"+indent)
	case value.SortedSet:
		if len(x) == 0 {
			return "(empty zset)"
		}
		lines := make([]string, len(x))
		for i, m := range x {
			lines[i] = fmt.Sprintf("%d) %s (score %s)", i+1, formatValue(m.Member, indent+"   "), value.Number(m.Score))
		}
		return strings.Join(lines, "\n"+indent)
	default:
		return x.String()
	}
}

// SplitArgs splits a command line into tokens. Tokens are separated by whitespace and may be
// quoted with "..." (supporting \" \\ \n \t escapes) or '...' (no escapes).
func SplitArgs(line string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			switch r {
			case 'n':
				current.WriteRune('\n')
			case 't':
				current.WriteRune('\t')
			case 'r':
				current.WriteRune('\r')
			default:
				current.WriteRune(r)
			}
			escaped = false
		case quote == '"' && r == '\\':
			escaped = true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			current.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}

	if quote != 0 || escaped {
		return nil, errors.New("unbalanced quotes")
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}
