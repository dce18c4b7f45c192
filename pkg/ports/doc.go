/*
Package ports defines the interfaces between the trace core and its producers
and consumers.

# Key Interfaces

  - Tracer: the producer side. An interpreter (or pkg/driver) pushes and pops
    stack frames as it walks a program.
  - RunStateReader: point queries and snapshots of one thread's history.
  - UpdatePublisher: forwards raw updates to an external bus (e.g., Redis).
*/
package ports
