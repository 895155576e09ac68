// Package chanx provides context-aware, goroutine-safe hand-off primitives
// for the stream engine.
//
//   - [Send] and [Recv]: context-aware send and receive on plain channels
//     that unblock on cancellation instead of leaking goroutines.
//   - [Pipe]: a bounded buffer with an overflow policy ([Suspend],
//     [DropOldest], [DropLatest]). Capacity 0 makes a rendezvous pipe
//     where every push waits for its pop.
//
// Blocking sends, receives and pipe operations are suspension points of the calling task: the
// task's dispatcher permit is released while they wait.
package chanx
