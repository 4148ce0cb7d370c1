// Package api exposes the agent supervisor over HTTP.
//
// # Routes
//
//   - GET /health - Liveness check
//   - GET /health/ready - 200 while the scheduler admits new agents
//   - GET /api/agents - List agents
//   - POST /api/agents - Create an agent
//   - POST /api/agents/batch - Create several agents in one admission step
//   - GET /api/agents/{id} - Agent details
//   - DELETE /api/agents/{id} - Stop an agent
//   - POST /api/agents/{id}/messages - Send a task and wait for the reply
//   - GET /api/agents/{id}/history - Lifecycle ledger for one agent
//   - POST /api/broadcast - Send a task to every agent
//   - GET /api/status - Resource and health snapshot
//   - GET /api/events - Server-sent lifecycle events
//
// Errors are JSON objects of the form {"error": "..."}. Supervisor errors
// map onto status codes in errorStatus.
//
// The /api/ routes are wrapped in the auth middleware given to Register;
// mutating routes additionally require auth.RequireWrite.
package api
