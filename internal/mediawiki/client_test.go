package mediawiki

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/markwatch/internal/corpus"
)

// fakeWiki answers a small subset of the Action API.
type fakeWiki struct {
	mu       sync.Mutex
	requests []map[string]string
	handler  func(w http.ResponseWriter, params map[string]string)
}

func (f *fakeWiki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params := make(map[string]string)
	for k := range r.Form {
		params[k] = r.Form.Get(k)
	}
	params["_method"] = r.Method
	params["_ua"] = r.UserAgent()

	f.mu.Lock()
	f.requests = append(f.requests, params)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	f.handler(w, params)
}

func (f *fakeWiki) calls() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.requests...)
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h func(w http.ResponseWriter, params map[string]string)) (*Client, *fakeWiki) {
	t.Helper()
	fw := &fakeWiki{handler: h}
	srv := httptest.NewServer(fw)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		APIURL:      srv.URL,
		Username:    "MeebezigBot@markwatch",
		Password:    "secret",
		RateLimit:   1000,
		Burst:       100,
		BaseBackoff: time.Millisecond,
		MaxRetries:  2,
	})
	require.NoError(t, err)
	return c, fw
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestLookupReferences_FollowsContinuation(t *testing.T) {
	c, fw := newTestClient(t, func(w http.ResponseWriter, p map[string]string) {
		if p["eicontinue"] == "" {
			writeJSON(w, map[string]any{
				"continue": map[string]string{"eicontinue": "0|42", "continue": "-||"},
				"query": map[string]any{"embeddedin": []map[string]any{
					{"title": "Amsterdam", "ns": 0},
				}},
			})
			return
		}
		writeJSON(w, map[string]any{
			"query": map[string]any{"embeddedin": []map[string]any{
				{"title": "Zeeland", "ns": 0},
			}},
		})
	})

	titles, err := c.LookupReferences(context.Background(), "meebezig", []int{0, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Amsterdam", "Zeeland"}, titles)

	calls := fw.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Template:meebezig", calls[0]["eititle"])
	assert.Equal(t, "0|2", calls[0]["einamespace"])
	assert.Equal(t, "2", calls[0]["formatversion"])
	assert.Equal(t, "0|42", calls[1]["eicontinue"])
	assert.Equal(t, defaultUserAgent, calls[0]["_ua"])
}

func TestDocumentText(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, p map[string]string) {
		if p["titles"] == "Gone" {
			writeJSON(w, map[string]any{"query": map[string]any{"pages": []map[string]any{
				{"title": "Gone", "missing": true},
			}}})
			return
		}
		writeJSON(w, map[string]any{"query": map[string]any{"pages": []map[string]any{
			{"title": p["titles"], "revisions": []map[string]any{
				{"slots": map[string]any{"main": map[string]any{"content": "{{meebezig}} tekst"}}},
			}},
		}}})
	})

	text, err := c.DocumentText(context.Background(), "Amsterdam")
	require.NoError(t, err)
	assert.Equal(t, "{{meebezig}} tekst", text)

	_, err = c.DocumentText(context.Background(), "Gone")
	require.Error(t, err)
	assert.True(t, corpus.IsNotFound(err))

	_, err = c.ReadPage(context.Background(), "Gone")
	assert.True(t, corpus.IsNotFound(err))
}

func TestReadPage_ReturnsBaseTimestamp(t *testing.T) {
	c, fw := newTestClient(t, func(w http.ResponseWriter, p map[string]string) {
		writeJSON(w, map[string]any{"query": map[string]any{"pages": []map[string]any{{
			"title": p["titles"],
			"revisions": []map[string]any{
				{"revid": 12, "timestamp": "2024-03-01T08:00:00Z",
					"slots": map[string]any{"main": map[string]any{"content": "Welkom!"}}},
			},
		}}}})
	})

	page, err := c.ReadPage(context.Background(), "Overleg gebruiker:Alice")
	require.NoError(t, err)
	assert.Equal(t, corpus.Page{Title: "Overleg gebruiker:Alice", Text: "Welkom!", Timestamp: "2024-03-01T08:00:00Z"}, page)
	assert.Equal(t, "ids|timestamp|content", fw.calls()[0]["rvprop"])
}

func TestRevisionHistory(t *testing.T) {
	c, fw := newTestClient(t, func(w http.ResponseWriter, p map[string]string) {
		if p["rvcontinue"] == "" {
			writeJSON(w, map[string]any{
				"continue": map[string]string{"rvcontinue": "20240101|3", "continue": "||"},
				"query": map[string]any{"pages": []map[string]any{{
					"title": "Amsterdam",
					"revisions": []map[string]any{
						{"revid": 1, "user": "Alice", "timestamp": "2024-01-01T09:00:00Z",
							"slots": map[string]any{"main": map[string]any{"content": "a"}}},
						{"revid": 2, "userhidden": true, "timestamp": "2024-01-01T10:00:00Z",
							"slots": map[string]any{"main": map[string]any{"texthidden": true}}},
					},
				}}},
			})
			return
		}
		writeJSON(w, map[string]any{
			"query": map[string]any{"pages": []map[string]any{{
				"title": "Amsterdam",
				"revisions": []map[string]any{
					{"revid": 3, "user": "Bob", "timestamp": "2024-01-02T10:00:00Z",
						"slots": map[string]any{"main": map[string]any{"content": "{{meebezig}}"}}},
				},
			}}},
		})
	})

	revs, err := c.RevisionHistory(context.Background(), "Amsterdam", true)
	require.NoError(t, err)
	require.Len(t, revs, 3)

	assert.Equal(t, corpus.Revision{ID: 1, Author: "Alice", Timestamp: "2024-01-01T09:00:00Z", Text: "a", HasText: true}, revs[0])
	assert.Equal(t, corpus.Revision{ID: 2, Timestamp: "2024-01-01T10:00:00Z"}, revs[1])
	assert.Equal(t, "Bob", revs[2].Author)

	calls := fw.calls()
	assert.Equal(t, "ids|timestamp|user|content", calls[0]["rvprop"])
	assert.Equal(t, "newer", calls[0]["rvdir"])
}

func TestLatestRevision(t *testing.T) {
	c, fw := newTestClient(t, func(w http.ResponseWriter, p map[string]string) {
		writeJSON(w, map[string]any{"query": map[string]any{"pages": []map[string]any{{
			"title": "Amsterdam",
			"revisions": []map[string]any{
				{"revid": 9, "user": "Carol", "timestamp": "2024-03-01T08:00:00Z"},
			},
		}}}})
	})

	rev, err := c.LatestRevision(context.Background(), "Amsterdam")
	require.NoError(t, err)
	assert.Equal(t, int64(9), rev.ID)
	assert.Equal(t, "Carol", rev.Author)
	assert.False(t, rev.HasText)
	assert.Equal(t, "1", fw.calls()[0]["rvlimit"])
}

func TestLoginAndWritePage(t *testing.T) {
	var edits int
	c, fw := newTestClient(t, func(w http.ResponseWriter, p map[string]string) {
		switch {
		case p["meta"] == "tokens" && p["type"] == "login":
			writeJSON(w, map[string]any{"query": map[string]any{"tokens": map[string]string{"logintoken": "L+\\"}}})
		case p["meta"] == "tokens" && p["type"] == "csrf":
			writeJSON(w, map[string]any{"query": map[string]any{"tokens": map[string]string{"csrftoken": "C+\\"}}})
		case p["action"] == "login":
			writeJSON(w, map[string]any{"login": map[string]string{"result": "Success"}})
		case p["action"] == "edit":
			edits++
			if edits == 1 {
				writeJSON(w, map[string]any{"error": map[string]string{"code": "badtoken", "info": "Invalid CSRF token."}})
				return
			}
			writeJSON(w, map[string]any{"edit": map[string]string{"result": "Success"}})
		default:
			http.Error(w, "unexpected", http.StatusBadRequest)
		}
	})

	ctx := context.Background()
	require.NoError(t, c.Login(ctx))
	require.NoError(t, c.WritePage(ctx, "Gebruiker:MeebezigBot/Overzicht", "tabel", "Bot: bijwerken", "2024-03-01T08:00:00Z"))

	var login, edit map[string]string
	for _, call := range fw.calls() {
		switch call["action"] {
		case "login":
			login = call
		case "edit":
			edit = call
		}
	}
	require.NotNil(t, login)
	assert.Equal(t, "POST", login["_method"])
	assert.Equal(t, "L+\\", login["lgtoken"])
	assert.Equal(t, "MeebezigBot@markwatch", login["lgname"])

	require.NotNil(t, edit)
	assert.Equal(t, "C+\\", edit["token"])
	assert.Equal(t, "user", edit["assert"])
	assert.Equal(t, "1", edit["bot"])
	assert.Equal(t, "5", edit["maxlag"])
	assert.Equal(t, "tabel", edit["text"])
	assert.Equal(t, "2024-03-01T08:00:00Z", edit["basetimestamp"])
	assert.Equal(t, "1", edit["nocreate"])
	assert.NotContains(t, edit, "createonly")
	assert.Equal(t, 2, edits)
}

// editServer hands out csrf tokens and answers every edit with result.
func editServer(t *testing.T, result map[string]any) (*Client, *fakeWiki) {
	t.Helper()
	return newTestClient(t, func(w http.ResponseWriter, p map[string]string) {
		if p["meta"] == "tokens" {
			writeJSON(w, map[string]any{"query": map[string]any{"tokens": map[string]string{"csrftoken": "C"}}})
			return
		}
		writeJSON(w, result)
	})
}

func lastEdit(fw *fakeWiki) map[string]string {
	calls := fw.calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i]["action"] == "edit" {
			return calls[i]
		}
	}
	return nil
}

func TestWritePage_WithoutBaseCreatesOnly(t *testing.T) {
	c, fw := editServer(t, map[string]any{"edit": map[string]string{"result": "Success"}})

	require.NoError(t, c.WritePage(context.Background(), "Gebruiker:MeebezigBot/Overzicht", "tabel", "Bot", ""))

	edit := lastEdit(fw)
	require.NotNil(t, edit)
	assert.Equal(t, "1", edit["createonly"])
	assert.NotContains(t, edit, "basetimestamp")
	assert.NotContains(t, edit, "nocreate")
}

func TestWritePage_ConflictCodes(t *testing.T) {
	for _, code := range []string{"editconflict", "articleexists", "missingtitle", "pagedeleted"} {
		t.Run(code, func(t *testing.T) {
			c, fw := editServer(t, map[string]any{"error": map[string]string{"code": code, "info": "changed"}})

			err := c.WritePage(context.Background(), "Amsterdam", "tekst", "Bot", "2024-03-01T08:00:00Z")
			require.Error(t, err)
			assert.True(t, corpus.IsEditConflict(err))
			assert.ErrorIs(t, err, corpus.ErrEditConflict)
			assert.Contains(t, err.Error(), "Amsterdam")

			edits := 0
			for _, call := range fw.calls() {
				if call["action"] == "edit" {
					edits++
				}
			}
			assert.Equal(t, 1, edits)
		})
	}
}

func TestWritePage_OtherErrorsAreNotConflicts(t *testing.T) {
	c, _ := editServer(t, map[string]any{"error": map[string]string{"code": "protectedpage", "info": "protected"}})

	err := c.WritePage(context.Background(), "Amsterdam", "tekst", "Bot", "2024-03-01T08:00:00Z")
	require.Error(t, err)
	assert.False(t, corpus.IsEditConflict(err))

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "protectedpage", ae.Code)
}

func TestAppendPage(t *testing.T) {
	c, fw := editServer(t, map[string]any{"edit": map[string]string{"result": "Success"}})

	err := c.AppendPage(context.Background(), "Overleg gebruiker:Alice", "\n\n{{subst:MeebezigMelding|[[Amsterdam]]}}", "Melding")
	require.NoError(t, err)

	edit := lastEdit(fw)
	require.NotNil(t, edit)
	assert.Equal(t, "\n\n{{subst:MeebezigMelding|[[Amsterdam]]}}", edit["appendtext"])
	assert.Equal(t, "Melding", edit["summary"])
	assert.NotContains(t, edit, "text")
	assert.NotContains(t, edit, "basetimestamp")
	assert.NotContains(t, edit, "createonly")
}

func TestAppendPage_Failure(t *testing.T) {
	c, _ := editServer(t, map[string]any{"edit": map[string]string{"result": "Failure"}})

	err := c.AppendPage(context.Background(), "Overleg gebruiker:Alice", "x", "Melding")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append to page Overleg gebruiker:Alice")
}

func TestLogin_Failure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, p map[string]string) {
		if p["meta"] == "tokens" {
			writeJSON(w, map[string]any{"query": map[string]any{"tokens": map[string]string{"logintoken": "t"}}})
			return
		}
		writeJSON(w, map[string]any{"login": map[string]string{"result": "Failed", "reason": "Incorrect password"}})
	})

	err := c.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect password")
}

func TestCall_RetriesServerErrors(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, p map[string]string) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"query": map[string]any{"embeddedin": []map[string]any{}}})
	})

	titles, err := c.LookupReferences(context.Background(), "meebezig", nil)
	require.NoError(t, err)
	assert.Empty(t, titles)
	assert.Equal(t, 3, attempts)
}

func TestCall_GivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, p map[string]string) {
		attempts++
		writeJSON(w, map[string]any{"error": map[string]string{"code": "maxlag", "info": "Waiting for replicas"}})
	})

	_, err := c.LookupReferences(context.Background(), "meebezig", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, attempts)
}

func TestCall_DoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, p map[string]string) {
		attempts++
		writeJSON(w, map[string]any{"error": map[string]string{"code": "invalidtitle", "info": "Bad title"}})
	})

	_, err := c.DocumentText(context.Background(), "<>")
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "invalidtitle", ae.Code)
}

func newSlowClient(t *testing.T, slow func(attempt int32) bool) (*Client, *atomic.Int32) {
	t.Helper()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if slow(n) {
			time.Sleep(300 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]any{"query": map[string]any{"embeddedin": []map[string]any{{"title": "Amsterdam"}}}})
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		APIURL:      srv.URL,
		RateLimit:   1000,
		Burst:       100,
		Timeout:     50 * time.Millisecond,
		BaseBackoff: time.Millisecond,
		MaxRetries:  2,
	})
	require.NoError(t, err)
	return c, &attempts
}

func TestCall_RetriesClientTimeout(t *testing.T) {
	c, attempts := newSlowClient(t, func(n int32) bool { return n == 1 })

	titles, err := c.LookupReferences(context.Background(), "meebezig", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Amsterdam"}, titles)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestCall_DoesNotRetryWhenCallerContextEnds(t *testing.T) {
	c, attempts := newSlowClient(t, func(int32) bool { return true })
	c.httpClient.Timeout = 0

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.LookupReferences(ctx, "meebezig", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestIsRetryable(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	timeout := &transportError{Op: "send request", Err: context.DeadlineExceeded}

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{"client timeout", live, timeout, true},
		{"transport error after caller cancel", done, timeout, false},
		{"server error", live, &statusError{Status: http.StatusBadGateway}, true},
		{"too many requests", live, &statusError{Status: http.StatusTooManyRequests}, true},
		{"not found", live, &statusError{Status: http.StatusNotFound}, false},
		{"maxlag", live, &APIError{Code: "maxlag"}, true},
		{"bad title", live, &APIError{Code: "invalidtitle"}, false},
		{"error text alone", live, errors.New("send request: refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.ctx, tt.err))
		})
	}
}
