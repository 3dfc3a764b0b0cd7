// Package policyopa evaluates the governance bundle that decides HALO
// block 4. The bundle hash doubles as the policy_version_hash.
package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	cryptoinfra "github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/crypto"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
)

const resultQuery = "data.cdil.governance.result"

type Engine struct {
	query  rego.PreparedEvalQuery
	bundle *Bundle
}

func NewEngineFromBundlePath(ctx context.Context, dir, id string) (*Engine, error) {
	b, err := ReadBundleDir(dir, id)
	if err != nil {
		return nil, err
	}
	return NewEngine(ctx, b)
}

// NewEngine compiles b against the restricted builtin set and prepares the
// result query once.
func NewEngine(ctx context.Context, b *Bundle) (*Engine, error) {
	if b == nil || len(b.Modules) == 0 {
		return nil, errors.New("policy bundle is empty")
	}
	caps := ast.CapabilitiesForThisVersion()
	caps.Builtins = filterBuiltins(caps.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(caps)

	opts := []func(*rego.Rego){
		rego.Query(resultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Store(inmem.NewFromObject(b.Data)),
	}
	names := make([]string, 0, len(b.Modules))
	for name := range b.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, rego.Module(name, b.Modules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy bundle %s: %w", b.ID, err)
	}
	if bad := forbiddenBuiltins(compiler); len(bad) > 0 {
		return nil, fmt.Errorf("policy bundle %s uses forbidden builtins: %s", b.ID, strings.Join(bad, ", "))
	}
	return &Engine{query: prepared, bundle: b}, nil
}

func (e *Engine) BundleHash() string { return e.bundle.Hash }

func (e *Engine) BundleID() string { return e.bundle.ID }

// Evaluate runs the bundle against input. InputHash commits to the exact
// document the policy saw.
func (e *Engine) Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error) {
	if e == nil {
		return domain.PolicyEvaluation{}, errors.New("policy engine is nil")
	}
	doc, err := toDocument(input)
	if err != nil {
		return domain.PolicyEvaluation{}, fmt.Errorf("encode policy input: %w", err)
	}
	inputHash, err := cryptoinfra.HashCanonical(doc)
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return domain.PolicyEvaluation{}, fmt.Errorf("policy bundle %s produced no result", e.bundle.ID)
	}
	var result domain.PolicyResult
	if err := fromDocument(rs[0].Expressions[0].Value, &result); err != nil {
		return domain.PolicyEvaluation{}, fmt.Errorf("decode policy result: %w", err)
	}
	if len(result.Deny) > 0 {
		result.Allow = false
	}
	sort.Slice(result.Deny, func(i, j int) bool {
		a, b := result.Deny[i], result.Deny[j]
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Message < b.Message
	})
	return domain.PolicyEvaluation{
		BundleID:   e.bundle.ID,
		BundleHash: e.bundle.Hash,
		InputHash:  inputHash,
		Result:     result,
	}, nil
}

// toDocument gives the bundle the wire field names.
func toDocument(input domain.PolicyInput) (map[string]any, error) {
	var doc map[string]any
	if err := fromDocument(input, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDocument(value any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// forbiddenBuiltins lists the builtin calls in the compiled modules that
// fall outside allowedBuiltins, sorted.
func forbiddenBuiltins(compiler *ast.Compiler) []string {
	seen := map[string]bool{}
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, builtin := ast.BuiltinMap[name]; builtin {
				if _, ok := allowedBuiltins[name]; !ok {
					seen[name] = true
				}
			}
			return false
		})
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
