// Package ledger holds the persisted marker ledger and its wikitext codec.
//
// The ledger is a wikitable with one row per document that carries, or
// recently carried, the marker:
//
//	{| class="wikitable sortable"
//	! Pagina !! Toegevoegd door !! Toegevoegd op !! Verwijderd door !! Verwijderd op
//	|-
//	| [[Example]] || Alice || 2024-01-01T00:00:00+00:00 || N.v.t. || N.v.t.
//	|-
//	|}
//
// Format is deterministic (rows sorted by document, fixed header and
// footer, no trailing newline) so callers can detect "nothing changed" by
// comparing text. For any snapshot whose document names contain no table
// or link delimiters, Format(Parse(Format(s))) == Format(s).
//
// Parse and Format are the only entry points that know the wire format.
package ledger
