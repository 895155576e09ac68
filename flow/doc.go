// Package flow provides cold, re-runnable streams on top of the taskflow
// task tree.
//
// A [Stream] is an immutable description of a producer plus a chain of
// operators. Nothing runs until [Stream.Collect]; every collection restarts
// the producer from scratch and shares no state with earlier ones.
//
//	s := flow.From(func(ctx context.Context, emit flow.Emitter[int]) error {
//	    for i := 1; i <= 5; i++ {
//	        if err := taskflow.Delay(ctx, 100*time.Millisecond); err != nil {
//	            return err
//	        }
//	        if err := emit(ctx, i); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
//	err := flow.Map(s, square).Conflated().Collect(ctx, render)
//
// Operators fall into four groups:
//
//   - Transform: [Map], [Stream.Filter], [Transform], [Stream.OnEach],
//     [Stream.Take], [Scan], [Batch], [Distinct], [Stream.Throttle].
//   - Combine: [Zip] runs both sources concurrently and pairs values by
//     index.
//   - Flatten: [FlatMapConcat], [FlatMapMerge], [FlatMapLatest].
//   - Context switch and backpressure: [Stream.FlowOn], [Stream.Buffered],
//     [Stream.Conflated] and [Stream.CollectLatest]. The upstream of a
//     context switch runs in a child task and hands values through a
//     [chanx.Pipe].
//
// # Failures
//
// A producer failure ends the collection with a [*taskflow.UpstreamError].
// [Stream.Catch] stages placed after the failing stage see it and may emit
// substitute values. A failure of the collector function ends the
// collection with a [*taskflow.DownstreamError] and is never seen by Catch.
// Cancellation is returned unchanged. [Stream.OnCompletion] runs exactly
// once per collection with the terminal cause.
package flow
