package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
)

// getIntParam retrieves an integer query parameter with default value and optional range validation
func getIntParam(r *http.Request, key string, defaultVal int, minVal, maxVal *int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}

	if minVal != nil && val < *minVal {
		return defaultVal
	}
	if maxVal != nil && val > *maxVal {
		return defaultVal
	}

	return val
}

// getFloatParam retrieves a float query parameter with default value
func getFloatParam(r *http.Request, key string, defaultVal float64) float64 {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultVal
	}

	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return defaultVal
	}

	return val
}

// decodeBody decodes the JSON request body into dest
func decodeBody(r *http.Request, dest interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dest)
}

// writeJSON encodes v as the JSON response body
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// respondWithError logs the error and sends a JSON error response
// Use this to avoid exposing internal errors while still logging them
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	if err != nil {
		log.Printf("API Error [%d]: %s - %v", code, message, err)
	} else {
		log.Printf("API Error [%d]: %s", code, message)
	}
	writeJSON(w, code, map[string]string{"error": message})
}
