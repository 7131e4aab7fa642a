package domain

import (
	"dario.cat/mergo"
)

// MergeValues merges update into current, key by key: map values merge
// deeply, everything else is overridden by the update side, and keys the
// update does not mention survive untouched. Neither input is mutated.
func MergeValues(current, update map[string]Value) (map[string]Value, error) {
	if len(current) == 0 {
		return cloneValueMap(update), nil
	}
	if len(update) == 0 {
		return cloneValueMap(current), nil
	}

	currentAny := AnyMap(current)
	updateAny := AnyMap(update)

	if err := mergo.Merge(&currentAny, updateAny, mergo.WithOverride); err != nil {
		return nil, err
	}

	return FromAnyMap(currentAny), nil
}
