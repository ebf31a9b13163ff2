// Package conversation persists conversations and their turns.
//
// A conversation is an ordered list of [message.Turn] values owned by a
// single user. Two implementations share the same method set: [Store]
// backed by PostgreSQL for the server, and [MemoryStore] for dev mode
// and tests. Callers depend on the subset of methods they need through
// their own interfaces.
//
// # Transaction Safety
//
// [Store.AppendTurns] locks the conversation row with SELECT ... FOR
// UPDATE before reading the max sequence number, so concurrent appends
// to one conversation cannot allocate colliding sequence numbers. If
// any insert fails the whole batch rolls back.
//
// # Copies
//
// Both stores hand out deep copies of turn data. Mutating a returned
// conversation never affects stored state.
package conversation
