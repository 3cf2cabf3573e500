package registry

import "dsl-ob-poc/internal/apperrors"

func errProofRequiresGoverned(objectID string) error {
	return apperrors.New(apperrors.KindInvalidInput,
		"snapshot %s has trust_class=proof but governance_tier is not governed", objectID)
}
