// Package corpus defines the capabilities markwatch needs from the wiki
// platform: reference lookup, page text, revision history and page writes.
//
// The reconciler only talks to the wiki through the Corpus interface. The
// production implementation lives in internal/mediawiki; tests use
// testutil.FakeCorpus.
package corpus
