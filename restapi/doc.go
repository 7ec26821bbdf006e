// Package restapi exposes a tool registry as plain request/response HTTP.
//
// A handler that fails still answers 200 with {"success":false,"error":...};
// only authentication (401), unknown tools (404) and malformed requests
// (415, 422) produce HTTP-level failures, with a {"detail":...} body.
package restapi
