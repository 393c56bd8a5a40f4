// Package reconcile merges recognition results and manual edits into the
// per-session attendance ledger.
//
// Recognition and manual writes share one upsert path and are equally
// authoritative when they happen. Under the default receipt-order policy the
// last write to arrive wins, so a late response for an old frame can overwrite
// a newer manual edit. The capture-time policy instead stamps recognized
// writes with the frame's capture time and drops those older than the stored
// record.
package reconcile
