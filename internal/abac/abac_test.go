package abac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_PublicAccessAllowedWithoutClearance(t *testing.T) {
	actor := ActorContext{ActorID: "u1"}
	label := SecurityLabel{Classification: Public}
	d := Evaluate(actor, label, PurposeOperations)
	assert.Equal(t, Allow, d.Kind)
	assert.True(t, d.IsAllowed())
}

func TestEvaluate_ConfidentialDeniedWithoutClearance(t *testing.T) {
	actor := ActorContext{ActorID: "u1"}
	label := SecurityLabel{Classification: Confidential}
	d := Evaluate(actor, label, PurposeOperations)
	assert.Equal(t, Deny, d.Kind)
	assert.False(t, d.IsAllowed())
}

func TestEvaluate_ConfidentialAllowedWithSufficientClearance(t *testing.T) {
	c := Confidential
	actor := ActorContext{ActorID: "u1", Clearance: &c}
	label := SecurityLabel{Classification: Confidential}
	d := Evaluate(actor, label, PurposeOperations)
	assert.Equal(t, Allow, d.Kind)
}

func TestEvaluate_InsufficientClearanceRankDenied(t *testing.T) {
	c := Internal
	actor := ActorContext{ActorID: "u1", Clearance: &c}
	label := SecurityLabel{Classification: Restricted}
	d := Evaluate(actor, label, PurposeOperations)
	assert.Equal(t, Deny, d.Kind)
}

func TestEvaluate_JurisdictionMismatchDenied(t *testing.T) {
	c := Public
	actor := ActorContext{ActorID: "u1", Clearance: &c, Jurisdictions: []string{"US"}}
	label := SecurityLabel{Classification: Public, Jurisdictions: []string{"GB"}}
	d := Evaluate(actor, label, PurposeOperations)
	assert.Equal(t, Deny, d.Kind)
}

func TestEvaluate_JurisdictionOverlapAllowed(t *testing.T) {
	c := Public
	actor := ActorContext{ActorID: "u1", Clearance: &c, Jurisdictions: []string{"GB", "US"}}
	label := SecurityLabel{Classification: Public, Jurisdictions: []string{"GB"}}
	d := Evaluate(actor, label, PurposeOperations)
	assert.Equal(t, Allow, d.Kind)
}

func TestEvaluate_PurposeLimitationDenied(t *testing.T) {
	c := Public
	actor := ActorContext{ActorID: "u1", Clearance: &c}
	label := SecurityLabel{Classification: Public, PurposeLimitation: []string{"operations"}}
	d := Evaluate(actor, label, PurposeAnalytics)
	assert.Equal(t, Deny, d.Kind)
}

func TestEvaluate_PurposeWildcardAllowed(t *testing.T) {
	c := Public
	actor := ActorContext{ActorID: "u1", Clearance: &c}
	label := SecurityLabel{Classification: Public, PurposeLimitation: []string{"*"}}
	d := Evaluate(actor, label, PurposeAnalytics)
	assert.Equal(t, Allow, d.Kind)
}

func TestEvaluate_PIIAnalyticsAllowedWithMasking(t *testing.T) {
	c := Public
	actor := ActorContext{ActorID: "u1", Clearance: &c}
	label := SecurityLabel{Classification: Public, PII: true}
	d := Evaluate(actor, label, PurposeAnalytics)
	assert.Equal(t, AllowWithMasking, d.Kind)
	assert.Equal(t, []string{"*pii*"}, d.MaskedFields)
	assert.True(t, d.IsAllowed())
}

func TestEvaluate_PIINonAnalyticsNotMasked(t *testing.T) {
	c := Public
	actor := ActorContext{ActorID: "u1", Clearance: &c}
	label := SecurityLabel{Classification: Public, PII: true}
	d := Evaluate(actor, label, PurposeOperations)
	assert.Equal(t, Allow, d.Kind)
}

func TestEvaluate_MonotoneInClassification(t *testing.T) {
	// Raising an object's classification can never expand access.
	c := Internal
	actor := ActorContext{ActorID: "u1", Clearance: &c}

	low := Evaluate(actor, SecurityLabel{Classification: Public}, PurposeOperations)
	high := Evaluate(actor, SecurityLabel{Classification: Restricted}, PurposeOperations)

	assert.True(t, low.IsAllowed())
	assert.False(t, high.IsAllowed())
}
