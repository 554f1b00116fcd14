package mediawiki

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/markwatch/internal/corpus"
)

var _ corpus.Corpus = (*Client)(nil)

type apiRevision struct {
	RevID      int64  `json:"revid"`
	User       string `json:"user"`
	UserHidden bool   `json:"userhidden"`
	Timestamp  string `json:"timestamp"`
	Slots      struct {
		Main struct {
			Content     *string `json:"content"`
			TextHidden  bool    `json:"texthidden"`
			TextMissing bool    `json:"textmissing"`
		} `json:"main"`
	} `json:"slots"`
}

type apiPage struct {
	Title     string        `json:"title"`
	Missing   bool          `json:"missing"`
	Invalid   bool          `json:"invalid"`
	Revisions []apiRevision `json:"revisions"`
}

type revisionsResponse struct {
	Continue map[string]string `json:"continue"`
	Query    struct {
		Pages []apiPage `json:"pages"`
	} `json:"query"`
}

func (r apiRevision) toRevision() corpus.Revision {
	rev := corpus.Revision{
		ID:        r.RevID,
		Timestamp: r.Timestamp,
	}
	if !r.UserHidden {
		rev.Author = r.User
	}
	if c := r.Slots.Main.Content; c != nil && !r.Slots.Main.TextHidden {
		rev.Text = *c
		rev.HasText = true
	}
	return rev
}

// LookupReferences lists pages transcluding Template:<marker>, following
// continuation until the list is complete.
func (c *Client) LookupReferences(ctx context.Context, marker string, namespaces []int) ([]string, error) {
	params := url.Values{
		"action":  {"query"},
		"list":    {"embeddedin"},
		"eititle": {"Template:" + marker},
		"eilimit": {"max"},
	}
	if len(namespaces) > 0 {
		ns := make([]string, len(namespaces))
		for i, n := range namespaces {
			ns[i] = strconv.Itoa(n)
		}
		params.Set("einamespace", strings.Join(ns, "|"))
	}

	var titles []string
	for {
		var resp struct {
			Continue map[string]string `json:"continue"`
			Query    struct {
				EmbeddedIn []struct {
					Title string `json:"title"`
				} `json:"embeddedin"`
			} `json:"query"`
		}
		if err := c.call(ctx, http.MethodGet, cloneValues(params), &resp); err != nil {
			return nil, fmt.Errorf("lookup references to %s: %w", marker, err)
		}
		for _, p := range resp.Query.EmbeddedIn {
			titles = append(titles, p.Title)
		}
		if len(resp.Continue) == 0 {
			return titles, nil
		}
		for k, v := range resp.Continue {
			params.Set(k, v)
		}
	}
}

// DocumentText returns the current text of a document.
func (c *Client) DocumentText(ctx context.Context, title string) (string, error) {
	text, err := c.currentText(ctx, title)
	if err != nil {
		return "", fmt.Errorf("fetch text of %s: %w", title, err)
	}
	return text, nil
}

// ReadPage returns the current text of any page together with the
// timestamp of its current revision, the base for a later WritePage.
func (c *Client) ReadPage(ctx context.Context, title string) (corpus.Page, error) {
	rev, err := c.currentRevision(ctx, title)
	if err != nil {
		return corpus.Page{}, fmt.Errorf("read page %s: %w", title, err)
	}
	return corpus.Page{Title: title, Text: rev.Text, Timestamp: rev.Timestamp}, nil
}

func (c *Client) currentText(ctx context.Context, title string) (string, error) {
	rev, err := c.currentRevision(ctx, title)
	if err != nil {
		return "", err
	}
	return rev.Text, nil
}

func (c *Client) currentRevision(ctx context.Context, title string) (corpus.Revision, error) {
	var resp revisionsResponse
	err := c.call(ctx, http.MethodGet, url.Values{
		"action":  {"query"},
		"prop":    {"revisions"},
		"titles":  {title},
		"rvprop":  {"ids|timestamp|content"},
		"rvslots": {"main"},
	}, &resp)
	if err != nil {
		return corpus.Revision{}, err
	}

	page, err := singlePage(resp)
	if err != nil {
		return corpus.Revision{}, err
	}
	if len(page.Revisions) == 0 {
		return corpus.Revision{}, corpus.ErrNotFound
	}
	rev := page.Revisions[0].toRevision()
	if !rev.HasText {
		return corpus.Revision{}, errors.New("current revision text is hidden")
	}
	return rev, nil
}

// RevisionHistory returns every revision of a document, oldest first.
func (c *Client) RevisionHistory(ctx context.Context, title string, withText bool) ([]corpus.Revision, error) {
	prop := "ids|timestamp|user"
	if withText {
		prop += "|content"
	}
	params := url.Values{
		"action":  {"query"},
		"prop":    {"revisions"},
		"titles":  {title},
		"rvprop":  {prop},
		"rvslots": {"main"},
		"rvdir":   {"newer"},
		"rvlimit": {"max"},
	}

	var revs []corpus.Revision
	for {
		var resp revisionsResponse
		if err := c.call(ctx, http.MethodGet, cloneValues(params), &resp); err != nil {
			return nil, fmt.Errorf("fetch history of %s: %w", title, err)
		}
		page, err := singlePage(resp)
		if err != nil {
			return nil, fmt.Errorf("fetch history of %s: %w", title, err)
		}
		for _, r := range page.Revisions {
			revs = append(revs, r.toRevision())
		}
		if len(resp.Continue) == 0 {
			return revs, nil
		}
		for k, v := range resp.Continue {
			params.Set(k, v)
		}
	}
}

// LatestRevision returns the newest revision's metadata.
func (c *Client) LatestRevision(ctx context.Context, title string) (corpus.Revision, error) {
	var resp revisionsResponse
	err := c.call(ctx, http.MethodGet, url.Values{
		"action":  {"query"},
		"prop":    {"revisions"},
		"titles":  {title},
		"rvprop":  {"ids|timestamp|user"},
		"rvlimit": {"1"},
	}, &resp)
	if err != nil {
		return corpus.Revision{}, fmt.Errorf("fetch latest revision of %s: %w", title, err)
	}
	page, err := singlePage(resp)
	if err != nil {
		return corpus.Revision{}, fmt.Errorf("fetch latest revision of %s: %w", title, err)
	}
	if len(page.Revisions) == 0 {
		return corpus.Revision{}, fmt.Errorf("fetch latest revision of %s: %w", title, corpus.ErrNotFound)
	}
	return page.Revisions[0].toRevision(), nil
}

// WritePage replaces the text of a page as a bot edit. base is the
// timestamp returned by ReadPage; an empty base means the page must not
// exist yet. Intervening edits surface as corpus.ErrEditConflict.
func (c *Client) WritePage(ctx context.Context, title, text, summary, base string) error {
	params := url.Values{"text": {text}}
	if base != "" {
		params.Set("basetimestamp", base)
		params.Set("nocreate", "1")
	} else {
		params.Set("createonly", "1")
	}
	if err := c.edit(ctx, title, summary, params); err != nil {
		return fmt.Errorf("write page %s: %w", title, err)
	}
	return nil
}

// AppendPage adds text to the end of a page, creating it when missing.
// The server applies the append to whatever revision is current.
func (c *Client) AppendPage(ctx context.Context, title, text, summary string) error {
	if err := c.edit(ctx, title, summary, url.Values{"appendtext": {text}}); err != nil {
		return fmt.Errorf("append to page %s: %w", title, err)
	}
	return nil
}

// edit posts action=edit with the given content parameters. A stale csrf
// token is refreshed once.
func (c *Client) edit(ctx context.Context, title, summary string, content url.Values) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.csrf(ctx)
		if err != nil {
			return err
		}

		params := cloneValues(content)
		params.Set("action", "edit")
		params.Set("title", title)
		params.Set("summary", summary)
		params.Set("bot", "1")
		params.Set("token", token)
		c.mu.Lock()
		if c.loggedIn {
			params.Set("assert", "user")
		}
		c.mu.Unlock()

		var resp struct {
			Edit struct {
				Result string `json:"result"`
			} `json:"edit"`
		}
		err = c.call(ctx, http.MethodPost, params, &resp)
		var ae *APIError
		if errors.As(err, &ae) {
			switch {
			case ae.Code == "badtoken" && attempt == 0:
				c.mu.Lock()
				c.csrfToken = ""
				c.mu.Unlock()
				continue
			case isConflictCode(ae.Code):
				return fmt.Errorf("%s: %w", ae.Info, corpus.ErrEditConflict)
			}
		}
		if err != nil {
			return err
		}
		if resp.Edit.Result != "Success" {
			return fmt.Errorf("edit result %q", resp.Edit.Result)
		}
		return nil
	}
	return errors.New("csrf token rejected twice")
}

// isConflictCode reports whether an edit error means the page changed
// under us: a newer revision, a page created or deleted since the read.
func isConflictCode(code string) bool {
	switch code {
	case "editconflict", "articleexists", "missingtitle", "pagedeleted":
		return true
	}
	return false
}

func (c *Client) csrf(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.csrfToken
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	token, err := c.token(ctx, "csrf")
	if err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	c.mu.Lock()
	c.csrfToken = token
	c.mu.Unlock()
	return token, nil
}

func singlePage(resp revisionsResponse) (apiPage, error) {
	if len(resp.Query.Pages) == 0 {
		return apiPage{}, corpus.ErrNotFound
	}
	page := resp.Query.Pages[0]
	if page.Missing || page.Invalid {
		return apiPage{}, corpus.ErrNotFound
	}
	return page, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
