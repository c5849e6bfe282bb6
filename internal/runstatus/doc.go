// Package runstatus persists the progress record of a dispatch run.
//
// The record is shared with readers in other processes (the status CLI, the
// dashboard), so every driver guarantees that a read observes a complete
// record and that terminal recipient outcomes are counted exactly once.
package runstatus
