// Package confirm gates destructive runs behind an operator decision.
//
// Interactive asks on a terminal; Force approves unattended runs. Both log
// with distinct event types so scheduled cleanups can be told apart from
// reviewed ones.
package confirm
