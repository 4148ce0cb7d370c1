// Package server assembles a runnable coven-swarm process.
//
// New builds, from a config.Config:
//
//   - an executor registry with one entry per configured agent type
//   - the agent supervisor (agent.Manager) sampling host stats via sysstats
//   - the SQLite lifecycle ledger, unless database.path is empty
//   - an in-memory event broadcaster feeding GET /api/events
//   - the HTTP API, behind JWT auth when auth.jwt_secret is set
//
// Run listens on server.http_addr, or on a tsnet node when tailscale is
// enabled, and blocks until its context is canceled. Shutdown stops the
// HTTP server first, then every agent, then closes the ledger.
package server
