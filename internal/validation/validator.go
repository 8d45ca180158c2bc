// Package validation provides validation rules for flag definitions.
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/TimurManjosov/flagship-webdemo/internal/engine"
	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
)

const (
	// MaxKeyLength is the maximum length for flag keys
	MaxKeyLength = 64
	// MaxEnvLength is the maximum length for environment names
	MaxEnvLength = 32
	// MaxDescriptionLength is the maximum length for flag descriptions
	MaxDescriptionLength = 500
	// MaxConfigSize is the maximum size of config JSON in bytes
	MaxConfigSize = 100 * 1024 // 100KB
	// MinRollout is the minimum rollout percentage
	MinRollout = 0
	// MaxRollout is the maximum rollout percentage
	MaxRollout = 100
	// MaxVariantNameLength is the maximum length for variant names
	MaxVariantNameLength = 64
)

// keyPattern matches alphanumeric characters, underscores, and hyphens
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationResult holds the result of validation
type ValidationResult struct {
	Valid  bool
	Errors map[string]string
}

// NewValidationResult creates a new validation result
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:  true,
		Errors: make(map[string]string),
	}
}

// AddError adds a field error and marks the result as invalid
func (v *ValidationResult) AddError(field, message string) {
	v.Valid = false
	v.Errors[field] = message
}

// Merge combines another validation result into this one
func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for field, message := range other.Errors {
		v.AddError(field, message)
	}
}

// Err returns nil for a valid result, otherwise an error listing every field
// in name order.
func (v *ValidationResult) Err() error {
	if v.Valid {
		return nil
	}
	fields := make([]string, 0, len(v.Errors))
	for f := range v.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + v.Errors[f]
	}
	return fmt.Errorf("invalid flag: %s", strings.Join(parts, "; "))
}

// ValidateFlag validates all flag fields and returns a validation result.
// An empty Env is allowed: such flags belong to every environment.
func ValidateFlag(f flagmodel.Flag) *ValidationResult {
	result := NewValidationResult()

	result.Merge(ValidateKey(f.Key))
	if f.Env != "" {
		result.Merge(ValidateEnv(f.Env))
	}
	result.Merge(ValidateDescription(f.Description))
	result.Merge(ValidateRollout(f.Rollout))
	if f.Config != nil {
		result.Merge(ValidateConfigSize(f.Config))
	}
	if len(f.Variants) > 0 {
		result.Merge(ValidateVariants(f.Variants))
	}
	if len(f.TargetingRules) > 0 {
		result.Merge(ValidateRules(f.TargetingRules, f.Variants))
	}
	if f.Expression != nil && strings.TrimSpace(*f.Expression) != "" {
		if err := engine.ValidateExpression(*f.Expression); err != nil {
			result.AddError("expression", "Expression must be valid JSON Logic")
		}
	}

	return result
}

// ValidateKey validates a flag key
func ValidateKey(key string) *ValidationResult {
	result := NewValidationResult()
	key = strings.TrimSpace(key)

	if key == "" {
		result.AddError("key", "Key is required")
		return result
	}

	if utf8.RuneCountInString(key) > MaxKeyLength {
		result.AddError("key", "Key must not exceed 64 characters")
		return result
	}

	if !keyPattern.MatchString(key) {
		result.AddError("key", "Key must contain only alphanumeric characters, underscores, and hyphens")
		return result
	}

	return result
}

// ValidateEnv validates an environment name
func ValidateEnv(env string) *ValidationResult {
	result := NewValidationResult()
	env = strings.TrimSpace(env)

	if env == "" {
		result.AddError("env", "Environment is required")
		return result
	}

	if utf8.RuneCountInString(env) > MaxEnvLength {
		result.AddError("env", "Environment must not exceed 32 characters")
	}

	return result
}

// ValidateDescription validates a flag description
func ValidateDescription(description string) *ValidationResult {
	result := NewValidationResult()

	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		result.AddError("description", "Description must not exceed 500 characters")
	}

	return result
}

// ValidateRollout validates a rollout percentage
func ValidateRollout(rollout int32) *ValidationResult {
	result := NewValidationResult()

	if rollout < MinRollout || rollout > MaxRollout {
		result.AddError("rollout", "Rollout must be between 0 and 100")
	}

	return result
}

// ValidateConfigSize validates the encoded size of a flag config
func ValidateConfigSize(config map[string]any) *ValidationResult {
	result := NewValidationResult()

	b, err := json.Marshal(config)
	if err != nil {
		result.AddError("config", "Config must be JSON-encodable: "+err.Error())
		return result
	}
	if len(b) > MaxConfigSize {
		result.AddError("config", "Config must not exceed 100KB")
	}

	return result
}

// ValidateVariants validates a list of variants
func ValidateVariants(variants []flagmodel.Variant) *ValidationResult {
	result := NewValidationResult()

	if len(variants) == 0 {
		return result
	}

	totalWeight := 0
	seenNames := make(map[string]bool)

	for _, v := range variants {
		if strings.TrimSpace(v.Name) == "" {
			result.AddError("variants", "Variant name cannot be empty")
			return result
		}
		if utf8.RuneCountInString(v.Name) > MaxVariantNameLength {
			result.AddError("variants", "Variant name must not exceed 64 characters")
			return result
		}
		if seenNames[v.Name] {
			result.AddError("variants", "Duplicate variant name: "+v.Name)
			return result
		}
		seenNames[v.Name] = true

		if v.Weight < 0 || v.Weight > 100 {
			result.AddError("variants", "Variant weight must be between 0 and 100")
			return result
		}
		totalWeight += v.Weight
	}

	if totalWeight != 100 {
		result.AddError("variants", "Variant weights must sum to 100")
	}

	return result
}

// ValidateRules validates targeting rules against the flag's variants.
// A rule distribution must name known variants and its weights must sum to 100.
func ValidateRules(rules []flagmodel.Rule, variants []flagmodel.Variant) *ValidationResult {
	result := NewValidationResult()

	known := make(map[string]bool, len(variants))
	for _, v := range variants {
		known[v.Name] = true
	}

	for i, r := range rules {
		field := fmt.Sprintf("targetingRules[%d]", i)
		for _, c := range r.Conditions {
			if strings.TrimSpace(c.Property) == "" {
				result.AddError(field, "Condition property is required")
				break
			}
			if !engine.KnownOperator(c.Operator) {
				result.AddError(field, "Unknown operator: "+string(c.Operator))
				break
			}
		}
		if len(r.Distribution) == 0 {
			continue
		}
		total := 0
		for name, w := range r.Distribution {
			if !known[name] {
				result.AddError(field, "Distribution references unknown variant: "+name)
				break
			}
			total += w
		}
		if result.Errors[field] == "" && total != 100 {
			result.AddError(field, "Distribution weights must sum to 100")
		}
	}

	return result
}
