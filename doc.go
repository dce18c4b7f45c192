/*
Package calltrace tracks the run state of an executing program as a tree of
call-stack positions and streams it to any number of observers.

# Concept

An interpreter reports its progress by pushing and popping stack frames
(statements, arguments, calls and the predicate/body blocks of conditionals).
Function calls and predicates are nodes: each one is Running while on the
stack and gets a final state (Successful, Failed or PredicateSuccessful) when
popped. Finished nodes are kept in a history ordered so that appending is
always monotonic and any position, even one that never ran, can be answered
with a binary search.

Observers open nodes to watch their children, like a tree view in a UI. Each
open first replays the known state of the node's children, then forwards live
updates. A slow observer is cut off with domain.ErrStreamInterrupted instead of
slowing down the program.

# Key Features

  - Point queries: RunState never fails; unknown stacks are NotRun.
  - Compacted history: repeated states are stored once without changing any answer.
  - Drill-down subscriptions with backfill and sequence-numbered updates.
  - Transports: HTTP/SSE (pkg/adapters/http), Redis pub/sub (pkg/adapters/redis)
    and MCP (pkg/adapters/mcp).

# Usage

	tracker := calltrace.New()
	defer tracker.Close()

	opens := make(chan domain.CallStack, 1)
	sub, _ := tracker.Subscribe(ctx, opens)
	opens <- domain.Root()

	tracker.Push(domain.Call("main"))
	// ...
	tracker.PopSuccess()

	for u := range sub.Updates() {
		fmt.Println(u.Stack, u.State)
	}

A program can also be loaded from YAML and executed by the reference driver:

	lib, _ := program.Load("program.yaml")
	err := tracker.Execute(ctx, lib)
*/
package calltrace
