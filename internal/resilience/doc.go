/*
Package resilience provides the circuit breaker guarding session spawns.

# Overview

The transport layer consults a breaker before attempting to spawn a new
shell process, so that a host that cannot spawn (resource exhaustion,
missing binary) does not get hammered by reconnect storms.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Trips after a configurable run of consecutive failures
- Single trial attempt in half-open state
- Minimum inter-attempt cooldown enforced in every state
- Exponential retry delay advertised to callers
- State change callbacks for monitoring

# Usage

	breaker := resilience.New("spawn", resilience.Settings{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
		MinInterval:      5 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			log.Printf("breaker %s: %s -> %s", name, from, to)
		},
	})

	err := breaker.Execute(func() error {
		return spawn()
	})

# Pattern

	Closed --[N consecutive failures]-> Open --[reset timeout]-> Half-Open
	Half-Open --[trial success]-> Closed
	Half-Open --[trial failure]-> Open
*/
package resilience
