// Package engine evaluates flag definitions against an evaluation context.
// Everything here is pure: no I/O, no shared state beyond a regex cache.
package engine

import (
	"sort"

	"github.com/TimurManjosov/flagship-webdemo/internal/evalctx"
	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
	"github.com/TimurManjosov/flagship-webdemo/internal/reason"
)

// Result is the outcome of evaluating one flag for one context.
type Result struct {
	On      bool
	Value   any
	Variant string
	Reason  reason.Reason
}

// Evaluate computes the result of flag for ctx.
//
// Order:
//  1. disabled flag -> off (OFF)
//  2. first targeting rule whose conditions all match -> on (RULE_MATCH),
//     variant picked from the rule's distribution
//  3. expression present: invalid -> ERROR/MALFORMED_FLAG, no match -> off
//     (FALLTHROUGH), match -> continue as TARGET_MATCH
//  4. percentage rollout on the context key (FALLTHROUGH with InRollout)
//  5. variant picked from the flag's variants when on
//
// Value is the chosen variant's config, falling back to the flag config.
// An invalid context yields ERROR/USER_NOT_SPECIFIED.
func Evaluate(flag *flagmodel.Flag, ctx evalctx.Context, salt string) Result {
	if flag == nil {
		return Result{Reason: reason.Error(reason.ErrorFlagNotFound)}
	}
	if ctx.Err() != nil {
		return Result{Reason: reason.Error(reason.ErrorUserNotSpecified)}
	}

	result := Result{Value: configValue(flag.Config)}
	if !flag.Enabled {
		result.Reason = reason.Off()
		return result
	}

	for i, rule := range flag.TargetingRules {
		if !matchesAll(ctx, rule.Conditions) {
			continue
		}
		result.On = true
		result.Variant = pickVariant(flag.Key, ctx.Key(), salt, rule.Distribution)
		result.Value = valueFor(flag, result.Variant)
		result.Reason = reason.RuleMatch(i, rule.ID)
		return result
	}

	matchedExpression := false
	if flag.Expression != nil && *flag.Expression != "" {
		ok, err := MatchExpression(*flag.Expression, ctx)
		if err != nil {
			result.Reason = reason.Error(reason.ErrorMalformedFlag)
			return result
		}
		if !ok {
			result.Reason = reason.Fallthrough(false)
			return result
		}
		matchedExpression = true
	}

	inRollout := InRollout(ctx.Key(), flag.Key, flag.Rollout, salt)
	result.On = inRollout
	if matchedExpression && inRollout {
		result.Reason = reason.TargetMatch()
	} else {
		result.Reason = reason.Fallthrough(inRollout)
	}
	if inRollout && len(flag.Variants) > 0 {
		result.Variant = pickVariant(flag.Key, ctx.Key(), salt, variantWeights(flag.Variants))
		result.Value = valueFor(flag, result.Variant)
	}
	return result
}

func matchesAll(ctx evalctx.Context, conditions []flagmodel.Condition) bool {
	for _, c := range conditions {
		actual, ok := ctx.GetValue(c.Property)
		if !ok {
			return false
		}
		m, ok := lookupMatcher(c.Operator)
		if !ok || !m(actual, c.Value) {
			return false
		}
	}
	return true
}

// pickVariant buckets key into the cumulative distribution. Variants are walked
// in name order so the assignment does not depend on map iteration.
func pickVariant(flagKey, key, salt string, distribution map[string]int) string {
	total := 0
	names := make([]string, 0, len(distribution))
	for name, weight := range distribution {
		if weight <= 0 {
			continue
		}
		total += weight
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	bucket := bucketN(key, flagKey, salt, total)
	if bucket < 0 {
		return ""
	}
	cumulative := 0
	for _, name := range names {
		cumulative += distribution[name]
		if bucket < cumulative {
			return name
		}
	}
	return names[len(names)-1]
}

func variantWeights(variants []flagmodel.Variant) map[string]int {
	weights := make(map[string]int, len(variants))
	for _, v := range variants {
		weights[v.Name] = v.Weight
	}
	return weights
}

func valueFor(flag *flagmodel.Flag, variant string) any {
	for _, v := range flag.Variants {
		if v.Name == variant && v.Config != nil {
			return v.Config
		}
	}
	return configValue(flag.Config)
}

// configValue keeps a nil config from becoming a non-nil interface.
func configValue(cfg map[string]any) any {
	if cfg == nil {
		return nil
	}
	return cfg
}
