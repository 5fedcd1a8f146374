// Package storecell binds a reactive cell to one key of a storage.Backend.
//
// Two variants share the same machinery:
//
//   - DefaultCell substitutes a default when the key is missing or unreadable
//     and resets to it on Delete.
//   - OptionalCell reports such keys as absent and becomes absent on Delete.
//
// Local writes go to the backend first and only reach the cell once they were
// persisted; a failed write leaves the cell untouched. Writes made by other
// contexts arrive as "storage" events on the bus. A cell reacts only to events
// for its own key from its own store, and always re-reads the backend rather
// than trusting the event payload, so reconciliation takes the same decode
// path as construction.
//
// No error is ever returned to callers. Failures are logged and degrade to the
// old value (writes) or the default/absent value (reads).
package storecell
