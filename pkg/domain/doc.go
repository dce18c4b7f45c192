/*
Package domain contains the core value types of the run state tracker.

It defines positions in a program's execution tree and their outcomes. This
package is kept pure and free of external dependencies like I/O or
concurrency, following Hexagonal Architecture principles.

# Key Entities

  - StackFrame: One level of nesting (Statement, Argument, Call or a NestedBlock predicate/body).
  - CallStack: A path from the root to a position; totally ordered so that ancestors sort after descendants.
  - RunState: NotRun, Running, Successful, Failed or PredicateSuccessful(bool).
  - Update: A sequence-numbered (CallStack, RunState) pair on a thread's update stream.
  - Snapshot: A consistent copy of a thread's live stack and history.
*/
package domain
