// Package dispatch runs blocking queries on worker goroutines and delivers
// their results to callbacks.
//
// Each Dispatch call registers its callback under a fresh Handle, runs the
// query on its own goroutine and returns immediately. When the query ends, the
// worker hands the Result to a bounded queue; a separate invoker loop takes
// the callback out of the Registry and runs it. Every registered callback runs
// exactly once, including when the query fails or the Dispatcher is closed.
package dispatch
