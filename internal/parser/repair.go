package parser

import (
	"errors"
	"fmt"

	"github.com/kaptinlin/jsonrepair"

	"taskforge/internal/jsonx"
)

// ExtractRepaired behaves like Extract but runs a MalformedJSON candidate
// through the jsonrepair library before giving up. Truncation classifications
// are never masked by repair: a cut-off response must surface as such so the
// caller can retry with a shorter prompt instead of trusting a guessed tail.
func ExtractRepaired(text string) (map[string]any, error) {
	result, err := Extract(text)
	if err == nil || !isRepairable(err) {
		return result, err
	}

	candidate, candErr := candidateObject(text)
	if candErr != nil {
		return nil, err
	}

	fixed, repairErr := jsonrepair.JSONRepair(candidate)
	if repairErr != nil {
		return nil, err
	}

	var repaired map[string]any
	if uErr := jsonx.Unmarshal([]byte(fixed), &repaired); uErr != nil {
		return nil, fmt.Errorf("%w: repair produced invalid JSON: %v", ErrMalformedJSON, uErr)
	}
	return repaired, nil
}

func isRepairable(err error) bool {
	return err != nil && !Truncated(err) && !errors.Is(err, ErrNoJSON)
}
