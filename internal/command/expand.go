package command

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"stagehand/internal/stage"
)

const (
	varOutput  = "output"
	varOutputs = "outputs"
)

var outputRef = regexp.MustCompile(`\$(\{output\}|output\b)`)

// ReferencesOutput reports whether template uses $output or ${output}.
func ReferencesOutput(template string) bool {
	return outputRef.MatchString(template)
}

// Expand substitutes stage variables in template. Names without a binding
// are left for the shell to resolve.
func Expand(template string, sc *stage.Context, bindings stage.Bindings) string {
	return os.Expand(template, func(name string) string {
		switch name {
		case varOutput:
			if outs := sc.Outputs(); len(outs) > 0 {
				return outs[0]
			}
		case varOutputs:
			if outs := sc.Outputs(); len(outs) > 0 {
				return strings.Join(outs, " ")
			}
		}
		if value, ok := bindings[name]; ok {
			return render(value)
		}
		return "$" + name
	})
}

func render(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, " ")
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
