package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the Admission
// API.
func OpenAPISpec() map[string]interface{} {
	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "TalkTime Meeting Engine",
			"description": "Admission control and lifecycle API for one-to-one video tutoring meetings",
			"version":     "1.0.0",
		},
		"servers": []map[string]interface{}{
			{"url": "http://localhost:8080", "description": "Local development"},
		},
		"paths": openAPIPaths(),
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"BearerAuth": map[string]interface{}{
					"type":   "http",
					"scheme": "bearer",
				},
			},
			"schemas": openAPISchemas(),
		},
		"security": []map[string]interface{}{
			{"BearerAuth": []string{}},
		},
		"tags": []map[string]interface{}{
			{"name": "Meetings", "description": "Meeting admission and lifecycle operations"},
			{"name": "Health", "description": "Service health checks"},
			{"name": "Admin", "description": "Runtime configuration management"},
		},
	}
}

func openAPIPaths() map[string]interface{} {
	return map[string]interface{}{
		"/v1/meetings": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Meetings"},
				"summary":     "Create a meeting",
				"operationId": "createMeeting",
				"requestBody": map[string]interface{}{
					"required": true,
					"content": map[string]interface{}{
						"application/json": map[string]interface{}{
							"schema": map[string]interface{}{"$ref": "#/components/schemas/CreateMeetingRequest"},
						},
					},
				},
				"responses": map[string]interface{}{
					"201": map[string]interface{}{"description": "Meeting admitted"},
					"422": map[string]interface{}{"description": "Admission rejected"},
				},
			},
		},
		"/v1/meetings/{id}/reschedule": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Meetings"},
				"summary":     "Reschedule a scheduled meeting",
				"operationId": "rescheduleMeeting",
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Meeting rescheduled"},
					"422": map[string]interface{}{"description": "Admission rejected or illegal transition"},
				},
			},
		},
		"/v1/meetings/{id}/cancel": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Meetings"},
				"summary":     "Cancel a meeting",
				"operationId": "cancelMeeting",
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Meeting canceled"},
					"422": map[string]interface{}{"description": "Illegal transition"},
				},
			},
		},
		"/v1/meetings/{idOrRoomId}/end": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Meetings"},
				"summary":     "End an active meeting",
				"operationId": "endMeeting",
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Meeting ended"},
					"422": map[string]interface{}{"description": "Illegal transition"},
				},
			},
		},
		"/v1/rooms/{roomId}/join": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":        []string{"Meetings"},
				"summary":     "Signal that both peers have joined the room",
				"operationId": "peerJoin",
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Meeting activated (or already active)"},
				},
			},
		},
		"/v1/meetings/{id}/link-token/verify": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Meetings"},
				"summary":     "Verify a secure meeting link token",
				"operationId": "verifyLinkToken",
				"parameters": []map[string]interface{}{
					{"name": "token", "in": "query", "required": true, "schema": map[string]string{"type": "string"}},
				},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Token valid"},
					"403": map[string]interface{}{"description": "Signature invalid, expired, or meeting mismatch"},
				},
			},
		},
		"/v1/students/{studentId}/meetings": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Meetings"},
				"summary":     "List a (volunteer, student) pair's meeting history and quota",
				"operationId": "listByStudent",
				"parameters": []map[string]interface{}{
					{"name": "asVolunteerId", "in": "query", "required": true, "schema": map[string]string{"type": "string"}},
				},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Pair history and quota stats"},
				},
			},
		},
		"/v1/users/{userId}/meetings/upcoming": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Meetings"},
				"summary":     "List a user's upcoming meetings",
				"operationId": "listUpcoming",
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Upcoming meetings"},
				},
			},
		},
		"/v1/users/{userId}/meetings/past": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":        []string{"Meetings"},
				"summary":     "List a user's past meetings",
				"operationId": "listPast",
				"responses": map[string]interface{}{
					"200": map[string]interface{}{"description": "Past meetings"},
				},
			},
		},
		"/healthz": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":      []string{"Health"},
				"summary":   "Liveness probe",
				"security":  []map[string]interface{}{},
				"responses": map[string]interface{}{"200": map[string]interface{}{"description": "Process is up"}},
			},
		},
		"/ready": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":      []string{"Health"},
				"summary":   "Readiness probe",
				"security":  []map[string]interface{}{},
				"responses": map[string]interface{}{"200": map[string]interface{}{"description": "Dependencies reachable"}},
			},
		},
		"/v1/admin/config": map[string]interface{}{
			"get": map[string]interface{}{
				"tags":      []string{"Admin"},
				"summary":   "Read the current config cache snapshot",
				"responses": map[string]interface{}{"200": map[string]interface{}{"description": "Settings snapshot"}},
			},
		},
		"/v1/admin/config/invalidate": map[string]interface{}{
			"post": map[string]interface{}{
				"tags":      []string{"Admin"},
				"summary":   "Force the config cache to refresh on next read",
				"responses": map[string]interface{}{"200": map[string]interface{}{"description": "Invalidated"}},
			},
		},
	}
}

func openAPISchemas() map[string]interface{} {
	return map[string]interface{}{
		"CreateMeetingRequest": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"volunteerId":    map[string]string{"type": "string"},
				"studentId":      map[string]string{"type": "string"},
				"scheduledStart": map[string]string{"type": "string", "format": "date-time"},
				"isInstant":      map[string]string{"type": "boolean"},
			},
			"required": []string{"volunteerId", "studentId"},
		},
		"Meeting": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":              map[string]string{"type": "string"},
				"roomId":          map[string]string{"type": "string"},
				"status":          map[string]string{"type": "string"},
				"volunteerId":     map[string]string{"type": "string"},
				"studentId":       map[string]string{"type": "string"},
				"scheduledStart":  map[string]string{"type": "string", "format": "date-time"},
				"durationMinutes": map[string]string{"type": "integer"},
			},
		},
		"Error": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"kind":    map[string]string{"type": "string"},
						"message": map[string]string{"type": "string"},
					},
				},
			},
		},
	}
}

// OpenAPIHandler serves the OpenAPI spec at /openapi.json.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := OpenAPISpec()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(spec)
	}
}

// SwaggerUIHandler serves a minimal Swagger UI page.
func SwaggerUIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>TalkTime Meeting Engine API</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
    SwaggerUI({
        url: '/openapi.json',
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
        layout: "BaseLayout"
    });
    </script>
</body>
</html>`
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}
}
