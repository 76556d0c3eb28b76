// Package http exposes the booking service over JSON.
//
// Every response body is the envelope {"success","message","data","code"}.
// Failures carry the error code and, for validation and conflict errors,
// field reasons and referenced ids under data.
//
// Public endpoints:
//   - POST /users registers an account.
//   - POST /sessions logs in with {"login","password","device":{...}} and
//     returns an access and refresh token pair. POST /sessions/refresh
//     exchanges a refresh token. Both are rate limited per client address.
//   - GET /healthz and GET /metrics.
//
// Endpoints behind RequireSession (Authorization: Bearer <access token>):
//   - DELETE /sessions/current, DELETE /sessions, PUT /users/me/password,
//     GET /users/me.
//   - GET /devices, DELETE /devices/{id}, POST /devices/{id}/disable.
//   - GET /users, PUT /users/{id}/status, DELETE /users/{id} for administrators.
//   - GET|POST /rooms, GET|PUT|DELETE /rooms/{id}, PUT /rooms/{id}/status,
//     GET /rooms/{id}/availability, GET /rooms/available?start=&end=&capacity=.
//   - POST /meetings, GET|PUT /meetings/{id}, PUT /meetings/{id}/schedule,
//     POST /meetings/{id}/cancel, POST|DELETE /meetings/{id}/participants/{userId}.
//
// Request and response DTOs live alongside their handlers.
package http
