// Command riskaudit administers a risk-limiting audit from the command line.
//
// Every command opens the audit database directly; county locks under the
// configured lock directory keep concurrent invocations from interleaving
// round operations. Commands that print tables accept --json for scripting.
package main
