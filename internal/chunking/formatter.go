package chunking

import (
	"fmt"
	"strings"

	"github.com/vectorpipe/embedworker/internal/catalog"
	"github.com/vectorpipe/embedworker/internal/errs"
)

// Formatter renders one chunk plus the source row into the text that is
// actually sent to an embedding provider (spec §3.C).
type Formatter func(cfg catalog.FormattingConfig, row map[string]interface{}, chunk Chunk) (string, error)

// ResolveFormatter returns the Formatter named by cfg.Implementation.
func ResolveFormatter(cfg catalog.FormattingConfig) (Formatter, error) {
	switch cfg.Implementation {
	case "", "chunk_value":
		return chunkValueFormatter, nil
	case "python_template":
		return pythonTemplateFormatter, nil
	default:
		return nil, errs.New(errs.KindConfig, errs.StepFormatting,
			fmt.Errorf("unknown formatting implementation %q", cfg.Implementation))
	}
}

// chunkValueFormatter passes the chunk text through unchanged.
func chunkValueFormatter(_ catalog.FormattingConfig, _ map[string]interface{}, chunk Chunk) (string, error) {
	return chunk.Text, nil
}

// pythonTemplateFormatter substitutes "$chunk" with the chunk text and
// "$<column>" with the named source-row column, mirroring Python's
// string.Template $-substitution syntax named in spec §3.C. An unresolved
// placeholder is a formatting error (the row is missing an expected
// column), not silently left in place.
func pythonTemplateFormatter(cfg catalog.FormattingConfig, row map[string]interface{}, chunk Chunk) (string, error) {
	tmpl := cfg.Template
	if tmpl == "" {
		return "", errs.New(errs.KindConfig, errs.StepFormatting, fmt.Errorf("python_template requires a non-empty template"))
	}

	vars := make(map[string]string, len(row)+1)
	vars["chunk"] = chunk.Text
	for k, v := range row {
		vars[k] = fmt.Sprintf("%v", v)
	}

	out, missing := substitute(tmpl, vars)
	if missing != "" {
		return "", errs.New(errs.KindFormatting, errs.StepFormatting,
			fmt.Errorf("template references unknown placeholder $%s", missing))
	}
	return out, nil
}

// substitute performs $name and ${name} replacement, returning the first
// unresolved placeholder name if any.
func substitute(tmpl string, vars map[string]string) (string, string) {
	var out strings.Builder
	runes := []rune(tmpl)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c != '$' || i == len(runes)-1 {
			out.WriteRune(c)
			continue
		}
		next := runes[i+1]
		if next == '$' {
			out.WriteRune('$')
			i++
			continue
		}
		braced := next == '{'
		start := i + 1
		if braced {
			start++
		}
		j := start
		for j < len(runes) && isIdentRune(runes[j], j == start) {
			j++
		}
		name := string(runes[start:j])
		if braced {
			if j >= len(runes) || runes[j] != '}' {
				out.WriteRune(c)
				continue
			}
			j++
		}
		if name == "" {
			out.WriteRune(c)
			continue
		}
		val, ok := vars[name]
		if !ok {
			return "", name
		}
		out.WriteString(val)
		i = j - 1
	}
	return out.String(), ""
}

func isIdentRune(r rune, first bool) bool {
	if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
		return true
	}
	if !first && r >= '0' && r <= '9' {
		return true
	}
	return false
}
