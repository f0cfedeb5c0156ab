// Package serialization provides utilities for serializing and deserializing data
// structures persisted by the dispatch engine, such as policy check parameters and
// triggered item ID lists.
package serialization

import (
	"encoding/json"

	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
	logger "github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// GetMaskedParametersMap creates a copy of check parameters and masks sensitive
// information based on configuration.
func GetMaskedParametersMap(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return map[string]interface{}{}
	}

	maskedParams := make(map[string]interface{}, len(params))
	for k, v := range params {
		maskedParams[k] = v
	}

	maskedKeys := config.GetMaskedParameterKeys()
	for _, key := range maskedKeys {
		if _, ok := maskedParams[key]; ok {
			maskedParams[key] = "********" // Masking
		}
	}
	return maskedParams
}

// MarshalParameters serializes a check parameters map into a JSON byte slice,
// masking sensitive keys as configured.
func MarshalParameters(params map[string]interface{}) ([]byte, error) {
	module := "serialization"

	maskedParams := GetMaskedParametersMap(params)

	if len(maskedParams) == 0 {
		logger.Debugf("Parameters map is nil. Returning empty JSON object.")
		return []byte("{}"), nil
	}

	data, err := json.Marshal(maskedParams)
	if err != nil {
		logger.Errorf("Failed to serialize parameters: %v", err)
		return nil, exception.NewDispatchError(module, "Failed to serialize parameters", err, false)
	}
	return data, nil
}

// UnmarshalParameters deserializes a JSON byte slice into a check parameters map.
func UnmarshalParameters(data []byte, params *map[string]interface{}) error {
	module := "serialization"

	if len(data) == 0 || string(data) == "null" {
		*params = make(map[string]interface{})
		logger.Debugf("Parameters is nil or empty data. Created new empty map.")
		return nil
	}

	if *params == nil {
		*params = make(map[string]interface{})
	} else {
		for k := range *params {
			delete(*params, k)
		}
	}

	err := json.Unmarshal(data, params)
	if err != nil {
		logger.Errorf("Failed to deserialize parameters: %v", err)
		return exception.NewDispatchError(module, "Failed to deserialize parameters", err, false)
	}
	return nil
}

// MarshalItemIDs serializes a slice of item IDs into a JSON byte slice.
func MarshalItemIDs(ids []string) ([]byte, error) {
	module := "serialization"

	if ids == nil {
		logger.Debugf("Item ID list is nil. Returning empty JSON array.")
		return []byte("[]"), nil
	}

	data, err := json.Marshal(ids)
	if err != nil {
		logger.Errorf("Failed to serialize item IDs: %v", err)
		return nil, exception.NewDispatchError(module, "Failed to serialize item IDs", err, false)
	}
	return data, nil
}

// UnmarshalItemIDs deserializes a JSON byte slice into a slice of item IDs.
func UnmarshalItemIDs(data []byte, ids *[]string) error {
	module := "serialization"

	if len(data) == 0 || string(data) == "null" {
		*ids = []string{}
		return nil
	}

	err := json.Unmarshal(data, ids)
	if err != nil {
		logger.Errorf("Failed to deserialize item IDs: %v", err)
		return exception.NewDispatchError(module, "Failed to deserialize item IDs", err, false)
	}
	return nil
}
