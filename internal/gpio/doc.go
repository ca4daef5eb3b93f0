// Package gpio polls byte-wide I/O expander ports and maps their bits to
// edge-triggered inputs and dirty-tracked outputs.
//
// Cockpit panels pack several switches and lamps into one 8-bit port. A
// Poller owns the two ports of one bus address (an MCP23017 on an IoPi
// board, for example) and:
//
//   - reads each port once per Update, dispatching InputBindings only when
//     the byte differs from the last snapshot
//   - fires each binding at most once per qualifying transition
//   - coalesces any number of OutputBinding.SetState calls into a single
//     port write per Update
//
// Hardware access goes through the PortDriver interface. A driver that
// cannot service a request returns an error; the poller keeps its snapshot
// and the next Update retries.
//
// The package starts no goroutines; callbacks run synchronously inside
// Update.
package gpio
