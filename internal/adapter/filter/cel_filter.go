package filter

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/hive-corporation/guardybot/internal/core/domain"
)

// Rule is a named boolean CEL expression. A finding matching any rule is muted.
//
// Available variables: type, purpose, namespace, artifact (string),
// recognized (bool), severity (double), account, region (string), count (int).
type Rule struct {
	Name       string `yaml:"name" toml:"name" json:"name"`
	Expression string `yaml:"expression" toml:"expression" json:"expression"`
}

type compiledRule struct {
	name    string
	program cel.Program
}

// CELFilter implements ports.MuteFilter.
type CELFilter struct {
	rules  []compiledRule
	logger *slog.Logger
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("purpose", cel.StringType),
		cel.Variable("namespace", cel.StringType),
		cel.Variable("artifact", cel.StringType),
		cel.Variable("recognized", cel.BoolType),
		cel.Variable("severity", cel.DoubleType),
		cel.Variable("account", cel.StringType),
		cel.Variable("region", cel.StringType),
		cel.Variable("count", cel.IntType),
	)
}

// New compiles every rule up front so a bad expression fails at load time
// rather than on the first finding.
func New(rules []Rule, logger *slog.Logger) (*CELFilter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}

		ast, iss := env.Compile(r.Expression)
		if iss.Err() != nil {
			return nil, fmt.Errorf("mute rule %q: %w", name, iss.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("mute rule %q: expression must be boolean, got %s", name, ast.OutputType())
		}

		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("mute rule %q: %w", name, err)
		}
		compiled = append(compiled, compiledRule{name: name, program: prg})
	}

	return &CELFilter{rules: compiled, logger: logger}, nil
}

// Validate compiles rules without keeping them.
func Validate(rules []Rule) error {
	_, err := New(rules, nil)
	return err
}

// Len returns the number of active rules.
func (f *CELFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.rules)
}

// Match evaluates rules in order and returns the first one that matches.
// Evaluation errors never mute a finding.
func (f *CELFilter) Match(finding domain.Finding) (string, bool) {
	if f == nil || len(f.rules) == 0 {
		return "", false
	}

	vars := map[string]any{
		"type":       finding.Type,
		"purpose":    finding.Taxonomy.ThreatPurpose,
		"namespace":  finding.Taxonomy.ResourceNamespace,
		"artifact":   finding.Taxonomy.Artifact,
		"recognized": finding.Taxonomy.Recognized,
		"severity":   finding.Severity,
		"account":    finding.AccountID,
		"region":     finding.Region,
		"count":      int64(finding.Count),
	}

	for _, r := range f.rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			f.logger.Warn("⚠️ mute rule evaluation failed", "rule", r.name, "finding_id", finding.ID, "error", err)
			continue
		}
		if muted, ok := out.Value().(bool); ok && muted {
			return r.name, true
		}
	}
	return "", false
}
