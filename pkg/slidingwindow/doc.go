// Package slidingwindow implements the ordered pipeline scheduler. Blocks are proved
// concurrently inside a bounded window and settled strictly in block order.
//
// Terminology
//   - lowest: the next block to settle. Every block below it is settled and durable.
//   - highest: the highest block known to exist, fed by the head poller.
//   - K: the window size. Only blocks in [lowest, lowest+K-1] may be claimed, and a claimed
//     block holds one of K semaphore slots until it is settled or its attempt fails. At most K
//     blocks are therefore between fetch and settlement at any time.
//
// Main components
//   - Manager: claims blocks, runs a Worker per claimed block, and owns the settle loop that
//     drains proved blocks in order through the settlement backend, the cursor store and the
//     sinks.
//   - Worker: fetches one block and runs its proof stages. Finished stages are persisted so a
//     retried or resumed block does not prove them again.
//   - State: the thread-safe window bookkeeping (watermarks, inflight and ready blocks, failure
//     counts and retry deadlines).
//
// Failure handling
//   - A block that does not exist yet is retried after the idle backoff and never counts as a
//     failure.
//   - A retryable worker failure is retried after the retry backoff. At MaxFailures, or on a
//     fatal failure, the block is added to the failed list and Run returns an error.
//   - A settlement or cursor store failure halts the pipeline the same way. Nothing after a
//     failed block is ever settled.
//
// Usage
//  1. Construct a State with the first block to settle.
//  2. Construct a Manager with NewManager(logger, state, worker, backend, store, sinks, metrics, cfg).
//  3. Start Run(ctx) in a goroutine and feed heads with SubmitHeight (subscriber.Poller does this).
//  4. Cancel ctx to stop Run. In-flight proof jobs are abandoned and redone after a restart.
package slidingwindow
