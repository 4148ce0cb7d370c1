// Package agent supervises a bounded population of in-process agents.
//
// # Overview
//
// Each agent is a goroutine that runs an optional initial task and then serves
// its mailbox until it is stopped. Five components cooperate:
//
//   - Scheduler: admission control by slot count and sampled host load
//   - Bus: mailbox registry with unicast and broadcast delivery
//   - Monitor: heartbeat deadlines and a periodic timeout scanner
//   - Pool: owns the workers, their records and their teardown
//   - Manager: sequences the others and runs the background loops
//
// # Manager
//
//	mgr := agent.NewManager(agent.ManagerParams{
//	    Config:    agent.DefaultConfig(),
//	    Executors: registry,
//	    Logger:    logger,
//	})
//	go mgr.Run(ctx)
//
// Key operations:
//
//   - CreateAgent(ctx, req): Reserve a slot, spawn, register
//   - CreateAgentsParallel(ctx, reqs): All-or-nothing admission for a batch
//   - SendMessage(ctx, id, content): Deliver a task and wait for its reply
//   - Broadcast(content): Queue a message for every registered agent
//   - StopAgent(id): Idempotent stop that frees the slot exactly once
//
// # Slots
//
// A slot is reserved before the worker exists and released by whoever removes
// the agent from the pool: an explicit stop, timeout eviction or the idle
// reaper. Removal happens under the pool lock, so only one of them wins.
//
// # Liveness
//
// The monitor's clock is reset only by UpdateHeartbeat, which the manager
// calls on creation and after each successful message exchange. Worker ticks
// refresh it only when Config.HeartbeatRefreshesHealth is set. Overdue agents
// are marked Error("Timeout") and reported on every scan until evicted.
//
// # Thread Safety
//
// Every exported type is safe for concurrent use. No component holds its
// lock while calling into another.
package agent
