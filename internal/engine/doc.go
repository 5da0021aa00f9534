// Package engine implements the read-through protocol of the cache.
//
// A query resolves the grid nodes intersecting its region. Valid nodes are
// read-locked and served from the index; the others are write-locked,
// fetched from the backend source with one request, and written into the
// index while the result streams to the caller. Closing the Iterator
// commits the nodes whose content was read completely and abandons the
// rest.
//
// Lock acquisition is two-phase. The optimistic phase only takes read
// locks. If any node is missing, every read lock is dropped and one pass in
// ascending node id order takes the final read and write locks. Because no
// caller ever waits for a lock while holding a higher-numbered one, callers
// cannot deadlock each other, and a node populated by another caller
// between the phases is read instead of fetched twice.
package engine
