// Package reconcile keeps the marker ledger in line with the wiki.
//
// A run reads the live set (documents referencing the marker) and the
// ledger page once, mutates an in-memory snapshot, and writes the ledger
// back once, only if its text changed.
//
// Pass 1 walks the live set: confirms the marker in each document's text,
// attributes additions for documents the ledger does not know (or knows
// as closed), and reminds adders whose marker is older than the
// threshold.
//
// Pass 2 walks the ledger: entries whose document no longer carries the
// marker are closed with a removal attribution; entries that were already
// closed before this run are purged.
//
// Every per-document step produces a Result. Failures on one document
// never abort the run; only failing to read the live set or the ledger
// does. The Report is a fold over the results.
//
// PRECONDITION: at most one run is active at a time. The ledger page is
// read-modify-written without locking, so the deployment must guarantee a
// single scheduler instance.
package reconcile
