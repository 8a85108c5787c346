// Package service implements supervision and execution of download jobs.
//
// Overview
// The Orchestrator owns a registry of active jobs keyed by source id. Only
// one job per source may run at a time and none while the library is being
// relocated. Every accepted start creates a running job record, resets the
// live state of the source and runs the job in its own goroutine.
//
// The Supervisor turns a source into a command line for the download tool,
// reconciles the filemap before the run and records the files the tool
// reports while it runs.
//
// Runner is a thin, opinionated wrapper around os/exec:
//   - starts the process with stderr merged into stdout
//   - delivers output lines in order from one goroutine
//   - interrupts the process on cancellation and kills it after a grace period
//   - exposes a channel with the Result
//
// Data flow:
//
//	Orchestrator           Supervisor              Runner{cmd}
//	    |                      |                       |
//	Start -> job record        |                       |
//	    | run() -------------->| PrepareFiles          |
//	    |                      | RunJob() ------------>| Start()
//	    |<------ line ---------|<------- line ---------| output goroutine
//	    | live.Hub             |<------ Result --------| (process exits)
//	    |<----- JobResult -----| filemap saved         |
//	FinishJob                  |                       |
//
// The Trigger calls Orchestrator.StartAll periodically.
package service
