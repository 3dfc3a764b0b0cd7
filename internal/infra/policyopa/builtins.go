package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins is the closed set a governance bundle may call. Clock,
// network and randomness builtins are never on it.
var allowedBuiltins = map[string]struct{}{
	"assign":            {},
	"concat":            {},
	"contains":          {},
	"count":             {},
	"endswith":          {},
	"eq":                {},
	"equal":             {},
	"gt":                {},
	"gte":               {},
	"internal.member_2": {},
	"is_array":          {},
	"is_boolean":        {},
	"is_null":           {},
	"is_number":         {},
	"is_object":         {},
	"is_string":         {},
	"json.marshal":      {},
	"lower":             {},
	"lt":                {},
	"lte":               {},
	"max":               {},
	"min":               {},
	"neq":               {},
	"object.get":        {},
	"regex.match":       {},
	"sort":              {},
	"split":             {},
	"sprintf":           {},
	"startswith":        {},
	"substring":         {},
	"trim":              {},
	"trim_space":        {},
	"upper":             {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(allowedBuiltins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
