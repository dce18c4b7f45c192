/*
Package trace records the run state of a thread of execution and streams it to
observers.

A Thread is advanced by one producer through Push and the Pop* methods. Each
finished node (a function call or a predicate block) is appended to an ordered
history; nodes entered and finished are also published on the thread's Feed.

Point queries resolve unknown stacks from their place in the order:

	th.RunState(stack) // Running, Successful, Failed, PredicateSuccessful(b) or NotRun

A Multiplexer turns the raw feed into per-observer streams. An observer opens
nodes; for each open node it first receives the already-known state of its
children (the backfill), then live updates for them. Every update carries a
sequence number, so a live update already reflected in a backfill is never
delivered twice.

Slow consumers never block the producer: a listener or observer whose buffer
fills up is dropped and its stream ends with an error wrapping
domain.ErrStreamInterrupted.
*/
package trace
