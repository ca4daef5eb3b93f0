// Package bridge ties the simulator link, the GPIO expanders and the keypad
// decoders together.
//
// A Bridge is a single-threaded state machine:
//
//	Idle -> Connecting -> Syncing -> Steady
//	            ^                      |
//	            +------ Backoff <------+  (any link failure)
//
// Connecting dials the simulator. Syncing reads the initial value of every
// synchronised property, subscribes to pushed updates and forces every
// actuator to match. Steady runs one tick per Step:
//
//  1. poll the simulator link and route pushed values to lamps and servos
//  2. drain every keypad decoder
//  3. update every port poller (input edges, then output flush)
//  4. write queued command lines
//  5. send a keepalive probe when the link has been quiet
//  6. publish status when due
//
// Backoff lights the optional link indicator and waits before the next
// connection attempt, doubling the wait up to a ceiling.
//
// All hardware, simulator and telemetry access goes through interfaces, so
// the whole machine can be driven step by step in tests.
package bridge
