// Package harness checks that every server backend can start, answer
// GET /test with "OK", and shut down cleanly when run as a child process.
//
// A case walks one child through Starting -> Ready -> Stopping -> Stopped:
//   - Start spawns the child on the first usable port in a PortRange and
//     polls 127.0.0.1:port over TCP until it accepts connections.
//   - Early exits are classified by code: 128 skips the backend, 3 moves on
//     to the next port, anything else fails the case.
//   - Stop interrupts the child with escalating waits (see Escalation).
//   - ClassifyLogs scans the captured output; "warning" lines are reported,
//     the first "error" line fails the case.
package harness
