// Package vault is a client for the Obsidian Local REST API plugin.
//
// Every request carries the plugin's API key as a bearer token. GET, PUT and
// DELETE requests are retried on connection errors and 5xx replies; POST and
// PATCH are never retried since they are not idempotent. Non-2xx replies are
// returned as *APIError, which wraps ErrAPI.
package vault
