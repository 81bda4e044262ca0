package policy

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// ruleSet holds the compiled org runtime rules. Rules are compiled once
// at engine construction; cel.Program values are safe for concurrent
// evaluation.
type ruleSet struct {
	sources  []string
	programs []cel.Program
}

func newRuleSet(sources []string) (*ruleSet, error) {
	rs := &ruleSet{}
	if len(sources) == 0 {
		return rs, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("extension", cel.DynType),
		cel.Variable("permission", cel.StringType),
		cel.Variable("environment", cel.StringType),
		cel.Variable("target_path", cel.StringType),
		cel.Variable("attributes", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel environment: %w", err)
	}

	for _, source := range sources {
		if err := validateDeterministic(env, source); err != nil {
			return nil, err
		}
		ast, issues := env.Compile(source)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy: compile rule %q: %w", source, issues.Err())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("policy: program rule %q: %w", source, err)
		}
		rs.sources = append(rs.sources, source)
		rs.programs = append(rs.programs, prg)
	}
	return rs, nil
}

func (r *ruleSet) Len() int { return len(r.programs) }

func (r *ruleSet) Source(i int) string { return r.sources[i] }

// FirstMatch evaluates the rules in order against input and returns the
// index of the first rule yielding true, or -1 when none match. Any
// evaluation fault is an error the caller must treat as a deny.
func (r *ruleSet) FirstMatch(input map[string]any) (int, error) {
	for i, prg := range r.programs {
		out, _, err := prg.Eval(input)
		if err != nil {
			return -1, fmt.Errorf("rule %q: %w", r.sources[i], err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return -1, fmt.Errorf("rule %q: result is not a boolean", r.sources[i])
		}
		if matched {
			return i, nil
		}
	}
	return -1, nil
}

// validateDeterministic rejects rule constructs whose results can vary
// between evaluations of the same input: clock access, floating point
// literals and map iteration order.
func validateDeterministic(env *cel.Env, source string) error {
	parsed, issues := env.Parse(source)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("policy: parse rule %q: %w", source, issues.Err())
	}

	var problems []string
	expr := parsed.Expr() //nolint:staticcheck // deprecated, but the proto walk needs it
	walkExpr(expr, &problems)
	if len(problems) > 0 {
		return fmt.Errorf("policy: rule %q is not deterministic: %s", source, strings.Join(problems, "; "))
	}
	return nil
}

func walkExpr(e *exprpb.Expr, problems *[]string) {
	if e == nil {
		return
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		if _, ok := k.ConstExpr.ConstantKind.(*exprpb.Constant_DoubleValue); ok {
			*problems = append(*problems, "floating point literals are forbidden")
		}

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "now":
			*problems = append(*problems, "now() is forbidden")
		case "keys", "values":
			*problems = append(*problems, "map iteration (keys/values) is forbidden")
		}
		if call.Target != nil {
			walkExpr(call.Target, problems)
		}
		for _, arg := range call.Args {
			walkExpr(arg, problems)
		}

	case *exprpb.Expr_SelectExpr:
		walkExpr(k.SelectExpr.Operand, problems)

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			walkExpr(el, problems)
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if entry.GetMapKey() != nil {
				walkExpr(entry.GetMapKey(), problems)
			}
			walkExpr(entry.Value, problems)
		}

	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		walkExpr(comp.IterRange, problems)
		walkExpr(comp.AccuInit, problems)
		walkExpr(comp.LoopCondition, problems)
		walkExpr(comp.LoopStep, problems)
		walkExpr(comp.Result, problems)
	}
}
