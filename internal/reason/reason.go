// Package reason describes why an evaluation produced the value it did.
package reason

import "strconv"

// Kind is the top-level classification of an evaluation outcome.
type Kind string

const (
	KindOff         Kind = "OFF"
	KindFallthrough Kind = "FALLTHROUGH"
	KindTargetMatch Kind = "TARGET_MATCH"
	KindRuleMatch   Kind = "RULE_MATCH"
	KindError       Kind = "ERROR"
)

// ErrorKind qualifies a KindError reason.
type ErrorKind string

const (
	ErrorClientNotReady   ErrorKind = "CLIENT_NOT_READY"
	ErrorFlagNotFound     ErrorKind = "FLAG_NOT_FOUND"
	ErrorUserNotSpecified ErrorKind = "USER_NOT_SPECIFIED"
	ErrorMalformedFlag    ErrorKind = "MALFORMED_FLAG"
	ErrorWrongType        ErrorKind = "WRONG_TYPE"
	ErrorException        ErrorKind = "EXCEPTION"
)

// Reason is an evaluation reason. The zero value has an empty Kind and means
// "no reason recorded".
type Reason struct {
	Kind      Kind      `json:"kind"`
	RuleIndex int       `json:"ruleIndex,omitempty"`
	RuleID    string    `json:"ruleId,omitempty"`
	InRollout bool      `json:"inRollout,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
}

func Off() Reason { return Reason{Kind: KindOff} }

func TargetMatch() Reason { return Reason{Kind: KindTargetMatch} }

// Fallthrough is the reason when no rule matched and the flag's default rollout applied.
func Fallthrough(inRollout bool) Reason {
	return Reason{Kind: KindFallthrough, InRollout: inRollout}
}

// RuleMatch records which targeting rule matched.
func RuleMatch(index int, id string) Reason {
	return Reason{Kind: KindRuleMatch, RuleIndex: index, RuleID: id}
}

// Error builds a KindError reason.
func Error(kind ErrorKind) Reason {
	return Reason{Kind: KindError, ErrorKind: kind}
}

// IsError reports whether r is an error reason.
func (r Reason) IsError() bool { return r.Kind == KindError }

// String renders the reason in its compact form, e.g. "ERROR/CLIENT_NOT_READY".
func (r Reason) String() string {
	switch r.Kind {
	case KindError:
		return string(r.Kind) + "/" + string(r.ErrorKind)
	case KindRuleMatch:
		if r.RuleID != "" {
			return string(r.Kind) + "/" + r.RuleID
		}
		return string(r.Kind) + "/" + strconv.Itoa(r.RuleIndex)
	default:
		return string(r.Kind)
	}
}
