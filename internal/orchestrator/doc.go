// Package orchestrator is the operation surface the command line calls:
// credential resolution, single and concurrent connects, disconnects,
// active-node selection and messaging against registered nodes.
//
// ConnectMany dials every node in its own goroutine and only touches the
// registry once all attempts have finished, so registry writes stay
// sequential. The first node (in input order) that connected becomes the
// active node. With a timeout, a Batch removes and unregisters its
// still-open connections when the timer fires; Batch.Wait keeps a one-shot
// process alive until then.
//
// Core operations return typed errors. Batch results are the only place
// errors are reduced to booleans.
package orchestrator
