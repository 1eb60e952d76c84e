package decision

import (
	"fmt"
	"os"
	"sort"

	"engagement_worker/core/domain"
	"engagement_worker/pkg/logger"

	"gopkg.in/yaml.v3"
)

type yamlRuleFile struct {
	Rules []yamlRule `yaml:"rules"`
}

type yamlRule struct {
	ID     string         `yaml:"id"`
	When   map[string]any `yaml:"when"`
	Action yamlAction     `yaml:"action"`
}

type yamlAction struct {
	TemplateID   string `yaml:"template_id"`
	Priority     int    `yaml:"priority"`
	CooldownDays *int   `yaml:"cooldown_days"`
}

const defaultCooldownDays = 1

// LoadRules reads the rule file. A missing, unreadable or invalid file yields
// the built-in default rules; the error is returned for logging only.
func LoadRules(path string) ([]domain.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).Warn("rules file %s unavailable, using default rules", path)
		return DefaultRules(), err
	}
	rules, err := ParseRules(raw)
	if err != nil {
		logger.WithError(err).Error("failed to load rules from %s, using default rules", path)
		return DefaultRules(), err
	}
	logger.Info("loaded %d email rules from %s", len(rules), path)
	return rules, nil
}

// ParseRules decodes a YAML rule document.
func ParseRules(raw []byte) ([]domain.Rule, error) {
	var file yamlRuleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("rules file has no rules")
	}

	seen := map[string]struct{}{}
	rules := make([]domain.Rule, 0, len(file.Rules))
	for i, r := range file.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: missing id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Action.TemplateID == "" {
			return nil, fmt.Errorf("rule %s: missing action.template_id", r.ID)
		}
		when, err := ParseCondition(r.When)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		cooldown := defaultCooldownDays
		if r.Action.CooldownDays != nil {
			cooldown = *r.Action.CooldownDays
		}
		rules = append(rules, domain.Rule{
			ID:   r.ID,
			When: when,
			Action: domain.RuleAction{
				TemplateID:   r.Action.TemplateID,
				Priority:     r.Action.Priority,
				CooldownDays: cooldown,
			},
		})
	}
	return rules, nil
}

// ParseCondition converts a decoded when-tree into a Condition. A node is
// either {all: [...]}, {any: [...]} or a single {op: {field, value|pattern|trigger_type}}.
// Unknown operators are kept as Unsupported so they fail closed at evaluation.
func ParseCondition(node map[string]any) (domain.Condition, error) {
	if len(node) == 0 {
		return nil, fmt.Errorf("empty condition")
	}
	if children, ok := node["all"]; ok {
		conds, err := parseChildren(children)
		if err != nil {
			return nil, fmt.Errorf("all: %w", err)
		}
		return domain.All{Conditions: conds}, nil
	}
	if children, ok := node["any"]; ok {
		conds, err := parseChildren(children)
		if err != nil {
			return nil, fmt.Errorf("any: %w", err)
		}
		return domain.Any{Conditions: conds}, nil
	}
	if len(node) != 1 {
		return nil, fmt.Errorf("leaf must have exactly one operator, got %d", len(node))
	}

	for op, rawParams := range node {
		params, ok := rawParams.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: params must be a mapping", op)
		}
		field, _ := params["field"].(string)
		if field == "" {
			return nil, fmt.Errorf("%s: missing field", op)
		}
		f := domain.Field(field)

		switch op {
		case "eq", "ne", "gt", "gte", "lt", "lte":
			v, err := toValue(params["value"])
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", op, field, err)
			}
			return domain.Compare{Field: f, Op: domain.CompareOp(op), Value: v}, nil
		case "contains", "not_contains":
			v, err := toValue(params["value"])
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", op, field, err)
			}
			return domain.Contains{Field: f, Value: v, Negate: op == "not_contains"}, nil
		case "contains_pattern":
			pattern, _ := params["pattern"].(string)
			if pattern == "" {
				return nil, fmt.Errorf("%s %s: missing pattern", op, field)
			}
			return domain.ContainsPattern{Field: f, Pattern: pattern}, nil
		case "contains_trigger":
			tt, _ := params["trigger_type"].(string)
			if tt == "" {
				return nil, fmt.Errorf("%s %s: missing trigger_type", op, field)
			}
			return domain.ContainsTrigger{Field: f, TriggerType: tt}, nil
		default:
			logger.Warn("unknown rule operator %q on %s; it will never match", op, field)
			return domain.Unsupported{Op: op, Field: f}, nil
		}
	}
	return nil, fmt.Errorf("unreachable")
}

func parseChildren(raw any) ([]domain.Condition, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list")
	}
	// An empty list would either match every learner or none.
	if len(items) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	conds := make([]domain.Condition, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d: expected a mapping", i)
		}
		c, err := ParseCondition(m)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func toValue(raw any) (domain.Value, error) {
	switch v := raw.(type) {
	case nil:
		return domain.Value{}, nil
	case bool:
		return domain.BoolValue(v), nil
	case int:
		return domain.NumberValue(float64(v)), nil
	case int64:
		return domain.NumberValue(float64(v)), nil
	case uint64:
		return domain.NumberValue(float64(v)), nil
	case float64:
		return domain.NumberValue(v), nil
	case string:
		return domain.StringValue(v), nil
	}
	return domain.Value{}, fmt.Errorf("unsupported value type %T", raw)
}

// Describe renders a condition back into its declarative form.
func Describe(cond domain.Condition) map[string]any {
	switch c := cond.(type) {
	case domain.All:
		return map[string]any{"all": describeAll(c.Conditions)}
	case domain.Any:
		return map[string]any{"any": describeAll(c.Conditions)}
	case domain.Compare:
		return map[string]any{string(c.Op): map[string]any{"field": c.Field, "value": c.Value.Any()}}
	case domain.Contains:
		op := "contains"
		if c.Negate {
			op = "not_contains"
		}
		return map[string]any{op: map[string]any{"field": c.Field, "value": c.Value.Any()}}
	case domain.ContainsPattern:
		return map[string]any{"contains_pattern": map[string]any{"field": c.Field, "pattern": c.Pattern}}
	case domain.ContainsTrigger:
		return map[string]any{"contains_trigger": map[string]any{"field": c.Field, "trigger_type": c.TriggerType}}
	case domain.Unsupported:
		return map[string]any{c.Op: map[string]any{"field": c.Field}}
	}
	return map[string]any{}
}

func describeAll(conds []domain.Condition) []map[string]any {
	out := make([]map[string]any, 0, len(conds))
	for _, c := range conds {
		out = append(out, Describe(c))
	}
	return out
}

// RuleView is the JSON shape of a loaded rule.
type RuleView struct {
	ID     string            `json:"id"`
	When   map[string]any    `json:"when"`
	Action domain.RuleAction `json:"action"`
}

// DescribeRules returns the rules ordered by priority, highest first.
func DescribeRules(rules []domain.Rule) []RuleView {
	views := make([]RuleView, 0, len(rules))
	for _, r := range rules {
		views = append(views, RuleView{ID: r.ID, When: Describe(r.When), Action: r.Action})
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Action.Priority != views[j].Action.Priority {
			return views[i].Action.Priority > views[j].Action.Priority
		}
		return views[i].ID < views[j].ID
	})
	return views
}
