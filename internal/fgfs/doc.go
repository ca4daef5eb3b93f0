// Package fgfs implements the simulator side of the cockpit bridge: a
// line-oriented TCP client for the FlightGear property server.
//
// The property server speaks CRLF-terminated text lines. The bridge uses a
// small subset of its command set:
//
//	subscribe <path>        server pushes "<path>=<value>" on every change
//	set <path> <value>      one-shot write, no reply
//	get <path>              exactly one reply line carrying the bare value
//	run <command> [k=v]*    fire-and-forget action (e.g. "run cdu-key cdu=0 key=65")
//	pwd                     liveness probe, replied with "/"
//
// # Threading
//
// A Client is owned by a single loop. Every blocking point (Poll, Write,
// SyncGet, Connect) is bounded by a deadline, so no call needs cooperative
// cancellation and no goroutines are started. Reconnection policy is left to
// the caller; the client only moves between Disconnected and Connected.
//
// # Usage
//
//	client := fgfs.New(fgfs.Config{Host: "simpc.local", Port: 5501})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	_ = client.Subscribe("/gear/gear[0]/position-norm")
//	err := client.Poll(func(line string) {
//	    path, value, ok := fgfs.ParsePush(line)
//	    ...
//	}, 50*time.Millisecond)
package fgfs
