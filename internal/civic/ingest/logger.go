package ingest

import (
	"log"
	"time"
)

// LogRequest logs an upstream API request being made.
func LogRequest(source, method, url string, params map[string]interface{}) {
	if len(params) > 0 {
		log.Printf("[%s] %s %s params=%v", source, method, url, params)
	} else {
		log.Printf("[%s] %s %s", source, method, url)
	}
}

// LogResponse logs an upstream API response received.
func LogResponse(source string, statusCode int, duration time.Duration, resultCount int) {
	log.Printf("[%s] response status=%d duration=%dms results=%d",
		source, statusCode, duration.Milliseconds(), resultCount)
}

// LogError logs an error from an upstream operation.
func LogError(source, operation string, err error) {
	log.Printf("[%s] %s error: %v", source, operation, err)
}

// LogSkipped logs a registered source left unconfigured.
func LogSkipped(source string) {
	log.Printf("[%s] not configured, skipping", source)
}
