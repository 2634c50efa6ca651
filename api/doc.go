// Package api holds the request and response types of the TutorFlow HTTP API
// and the Swagger annotations the handlers are documented with.
//
// # API Overview
//
// TutorFlow exposes:
//   - Tutoring sessions: create, inspect, reset, delete and list
//   - Session turns streamed over SSE (POST /api/v1/sessions/{id}/messages)
//     or a WebSocket (GET /api/v1/sessions/{id}/ws)
//   - Quiz attempt history per session
//   - A direct chat passthrough to the primary model (/chat, /chat/stream)
//   - Health, readiness, version and Prometheus metrics
//
// # Authentication
//
// When API keys are configured, every endpoint except the health and metrics
// endpoints requires the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// When a JWT secret is configured, an HS256 bearer token is required as well:
//
//	Authorization: Bearer <token>
//
// # Base URL
//
//	http://localhost:8080
//
// # Generating Documentation
//
//	swag init -g cmd/tutorflow/main.go -o api --parseDependency --parseInternal
package api
