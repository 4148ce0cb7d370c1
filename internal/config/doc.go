// Package config handles configuration loading for coven-swarm.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_SWARM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/swarm.yaml
//  3. ~/.config/coven/swarm.yaml
//
// Files ending in .toml are read as TOML; everything else as YAML. Fields
// missing from the file keep the values from Default().
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8090"
//
//	database:
//	  path: "coven-swarm.db"   # empty disables the lifecycle ledger
//
//	supervisor:
//	  max_agents: 10
//	  default_timeout: "5m"
//	  health_check_interval: "1m"
//	  response_timeout: "10s"
//	  idle_threshold: "10s"
//	  heartbeat_interval: "15s"
//	  reap_interval: "30s"     # "0s" disables the idle reaper
//	  memory_limit_percent: 80
//	  cpu_limit_percent: 80
//	  message_queue_size: 1000
//	  heartbeat_refreshes_health: false
//
//	executors:
//	  search:
//	    kind: search
//	    base_url: "http://localhost:8888"
//	  goose:
//	    kind: command
//	    command: goose
//	    args: ["run", "-i", "{task_file}"]
//	    timeout: "10m"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Agent types without an executor entry run the echo executor.
package config
