// utils/payload.go - Loose-typed websocket payload access
package utils

import "encoding/json"

// ParsePayload normalizes an event payload into a map. Numbers arrive
// as float64 after JSON decoding; the typed getters below handle that.
func ParsePayload(payload interface{}) map[string]interface{} {
	if payload == nil {
		return make(map[string]interface{})
	}
	if data, ok := payload.(map[string]interface{}); ok {
		return data
	}
	// Try to parse as JSON if it's a string
	if str, ok := payload.(string); ok {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(str), &data); err == nil {
			return data
		}
	}
	return make(map[string]interface{})
}

func GetString(data map[string]interface{}, key string, defaultVal string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

func GetInt(data map[string]interface{}, key string, defaultVal int) int {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return defaultVal
}

func GetIntArray(data map[string]interface{}, key string) []int {
	if val, ok := data[key]; ok {
		if arr, ok := val.([]interface{}); ok {
			result := make([]int, 0, len(arr))
			for _, item := range arr {
				switch v := item.(type) {
				case int:
					result = append(result, v)
				case float64:
					result = append(result, int(v))
				}
			}
			return result
		}
	}
	return []int{}
}
