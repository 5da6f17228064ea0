package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRe = regexp.MustCompile(`{(.*?)}`)

// ResolveParams substitutes jsonpath references against the run data. A
// string value that is exactly "$..." resolves to the looked-up value with
// its type preserved; "{$...}" tokens embedded in a longer string resolve to
// their string form. Unresolvable references become nil / empty.
func ResolveParams(runData map[string]any, params map[string]any) map[string]any {
	output := make(map[string]any)
	resolveParams(runData, params, output)
	return output
}

func resolveParams(runData map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		switch val := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			output[k] = out
			resolveParams(runData, val, out)
		case string:
			output[k] = resolveString(runData, val)
		default:
			output[k] = v
		}
	}
}

func resolveString(runData map[string]any, s string) any {
	if strings.HasPrefix(s, "$") {
		value, _ := jsonpath.JsonPathLookup(runData, s)
		return value
	}
	tokens := tokenRe.FindAllString(s, -1)
	for _, token := range tokens {
		expr := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(expr, "$") {
			continue
		}
		value, _ := jsonpath.JsonPathLookup(runData, expr)
		s = strings.ReplaceAll(s, token, fmt.Sprintf("%v", value))
	}
	return s
}
