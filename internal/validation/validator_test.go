package validation

import (
	"strings"
	"testing"

	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		wantValid   bool
		wantMessage string
	}{
		{name: "valid alphanumeric", key: "my_flag_123", wantValid: true},
		{name: "valid with hyphen", key: "web-banner", wantValid: true},
		{name: "empty key", key: "", wantMessage: "Key is required"},
		{name: "whitespace only", key: "   ", wantMessage: "Key is required"},
		{name: "too long", key: strings.Repeat("a", 65), wantMessage: "Key must not exceed 64 characters"},
		{name: "exactly 64 chars", key: strings.Repeat("a", 64), wantValid: true},
		{name: "contains spaces", key: "my flag", wantMessage: "Key must contain only alphanumeric characters, underscores, and hyphens"},
		{name: "contains period", key: "banner.message", wantMessage: "Key must contain only alphanumeric characters, underscores, and hyphens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateKey(tt.key)
			if result.Valid != tt.wantValid {
				t.Errorf("ValidateKey(%q).Valid = %v, want %v", tt.key, result.Valid, tt.wantValid)
			}
			if !tt.wantValid && result.Errors["key"] != tt.wantMessage {
				t.Errorf("ValidateKey(%q) error = %q, want %q", tt.key, result.Errors["key"], tt.wantMessage)
			}
		})
	}
}

func TestValidateEnv(t *testing.T) {
	if r := ValidateEnv("prod"); !r.Valid {
		t.Errorf("Expected 'prod' to be valid, got %v", r.Errors)
	}
	if r := ValidateEnv(" "); r.Valid {
		t.Error("Expected blank env to be invalid")
	}
	if r := ValidateEnv(strings.Repeat("e", 33)); r.Errors["env"] != "Environment must not exceed 32 characters" {
		t.Errorf("Unexpected error: %v", r.Errors)
	}
}

func TestValidateRollout(t *testing.T) {
	for _, tc := range []struct {
		rollout int32
		valid   bool
	}{{0, true}, {50, true}, {100, true}, {-1, false}, {101, false}} {
		if got := ValidateRollout(tc.rollout).Valid; got != tc.valid {
			t.Errorf("ValidateRollout(%d).Valid = %v, want %v", tc.rollout, got, tc.valid)
		}
	}
}

func TestValidateDescription(t *testing.T) {
	if !ValidateDescription(strings.Repeat("d", 500)).Valid {
		t.Error("Expected 500 characters to be valid")
	}
	if ValidateDescription(strings.Repeat("d", 501)).Valid {
		t.Error("Expected 501 characters to be invalid")
	}
}

func TestValidateConfigSize(t *testing.T) {
	if !ValidateConfigSize(map[string]any{"color": "blue"}).Valid {
		t.Error("Expected small config to be valid")
	}
	big := map[string]any{"blob": strings.Repeat("x", MaxConfigSize)}
	if r := ValidateConfigSize(big); r.Errors["config"] != "Config must not exceed 100KB" {
		t.Errorf("Expected size error, got %v", r.Errors)
	}
}

func TestValidateVariants(t *testing.T) {
	tests := []struct {
		name        string
		variants    []flagmodel.Variant
		wantMessage string
	}{
		{name: "valid", variants: []flagmodel.Variant{{Name: "A", Weight: 50}, {Name: "B", Weight: 50}}},
		{name: "empty name", variants: []flagmodel.Variant{{Name: "", Weight: 100}}, wantMessage: "Variant name cannot be empty"},
		{name: "duplicate", variants: []flagmodel.Variant{{Name: "A", Weight: 50}, {Name: "A", Weight: 50}}, wantMessage: "Duplicate variant name: A"},
		{name: "bad weight", variants: []flagmodel.Variant{{Name: "A", Weight: 150}}, wantMessage: "Variant weight must be between 0 and 100"},
		{name: "sum not 100", variants: []flagmodel.Variant{{Name: "A", Weight: 30}, {Name: "B", Weight: 30}}, wantMessage: "Variant weights must sum to 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ValidateVariants(tt.variants)
			if got := r.Errors["variants"]; got != tt.wantMessage {
				t.Errorf("Expected %q, got %q", tt.wantMessage, got)
			}
		})
	}
}

func TestValidateRules(t *testing.T) {
	variants := []flagmodel.Variant{{Name: "A", Weight: 50}, {Name: "B", Weight: 50}}
	tests := []struct {
		name        string
		rule        flagmodel.Rule
		wantMessage string
	}{
		{
			name: "valid",
			rule: flagmodel.Rule{
				Conditions:   []flagmodel.Condition{{Property: "plan", Operator: "==", Value: "pro"}},
				Distribution: map[string]int{"A": 100},
			},
		},
		{
			name:        "missing property",
			rule:        flagmodel.Rule{Conditions: []flagmodel.Condition{{Operator: "equals"}}},
			wantMessage: "Condition property is required",
		},
		{
			name:        "unknown operator",
			rule:        flagmodel.Rule{Conditions: []flagmodel.Condition{{Property: "plan", Operator: "like"}}},
			wantMessage: "Unknown operator: like",
		},
		{
			name:        "unknown variant",
			rule:        flagmodel.Rule{Distribution: map[string]int{"C": 100}},
			wantMessage: "Distribution references unknown variant: C",
		},
		{
			name:        "weights",
			rule:        flagmodel.Rule{Distribution: map[string]int{"A": 40, "B": 40}},
			wantMessage: "Distribution weights must sum to 100",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ValidateRules([]flagmodel.Rule{tt.rule}, variants)
			if got := r.Errors["targetingRules[0]"]; got != tt.wantMessage {
				t.Errorf("Expected %q, got %q", tt.wantMessage, got)
			}
		})
	}
}

func TestValidateFlag(t *testing.T) {
	expr := `{"==": [{"var": "plan"}, "pro"]}`
	good := flagmodel.Flag{Key: "checkout", Enabled: true, Rollout: 50, Expression: &expr}
	if err := ValidateFlag(good).Err(); err != nil {
		t.Errorf("Expected valid flag, got %v", err)
	}

	badExpr := `{"==": [`
	bad := flagmodel.Flag{Key: "bad key", Rollout: 200, Expression: &badExpr}
	r := ValidateFlag(bad)
	for _, field := range []string{"key", "rollout", "expression"} {
		if _, ok := r.Errors[field]; !ok {
			t.Errorf("Expected error for %s, got %v", field, r.Errors)
		}
	}
	err := r.Err()
	if err == nil || !strings.HasPrefix(err.Error(), "invalid flag: expression:") {
		t.Errorf("Expected fields in name order, got %v", err)
	}
}
