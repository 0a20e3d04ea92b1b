package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spiffcs/ghvault/internal/log"
)

// DefaultPerPage matches GitHub's maximum page size.
const DefaultPerPage = 100

// Walker drives page-numbered requests against a collection endpoint
// until the collection is exhausted, yielding decoded records in server
// order, each exactly once.
type Walker struct {
	Client  *Client
	PerPage int
}

// pageRequest is one outbound page. Page and per-page are named fields,
// set explicitly into the query string, so the page number can never be
// confused with another positional parameter. Pagination once started
// at page 100 because of exactly that mixup.
type pageRequest struct {
	path    string
	page    int
	perPage int
	query   url.Values
}

func (r pageRequest) values() url.Values {
	q := url.Values{}
	for k, v := range r.query {
		q[k] = append([]string(nil), v...)
	}
	q.Set("per_page", strconv.Itoa(r.perPage))
	q.Set("page", strconv.Itoa(r.page))
	return q
}

// FetchAll walks every page of a collection endpoint starting at page 1
// and returns the records in server order. A page shorter than per_page
// is terminal. On failure the records retrieved so far are returned
// alongside the error so callers can persist partial progress.
//
// A credential rejection mid-walk triggers exactly one forced token
// refresh and a retry of the same page; any further failure propagates.
func (w *Walker) FetchAll(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	perPage := w.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}

	var records []json.RawMessage
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		req := pageRequest{path: path, page: page, perPage: perPage, query: query}
		items, err := w.fetchPage(ctx, req)
		if err != nil {
			var authErr *AuthExpiredError
			if errors.As(err, &authErr) && authErr.Retryable {
				log.Warn("credential expired mid-walk, refreshing and retrying page",
					"url", path, "page", page)
				w.Client.InvalidateToken()
				items, err = w.fetchPage(ctx, req)
			}
			if err != nil {
				return records, fmt.Errorf("page %d of %s: %w", page, path, err)
			}
		}

		records = append(records, items...)
		if len(items) < perPage {
			return records, nil
		}
	}
}

// FetchOne retrieves a single JSON document from a non-collection
// endpoint. No pagination parameters are sent.
func (w *Walker) FetchOne(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	resp, err := w.Client.Do(ctx, http.MethodGet, path, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: path, Err: err}
	}
	return json.RawMessage(body), nil
}

func (w *Walker) fetchPage(ctx context.Context, req pageRequest) ([]json.RawMessage, error) {
	resp, err := w.Client.Do(ctx, http.MethodGet, req.path, req.values())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: req.path, Err: err}
	}
	return decodeCollection(body)
}

// decodeCollection handles both plain JSON arrays and the wrapped form
// served by /installation/repositories, whose pages look like
// {"total_count": n, "repositories": [...]}.
func decodeCollection(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}
		return items, nil
	}

	var wrapped struct {
		TotalCount   *int              `json:"total_count"`
		Repositories []json.RawMessage `json:"repositories"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	if wrapped.TotalCount == nil {
		return nil, fmt.Errorf("decode page: expected a JSON array or a repositories object")
	}
	return wrapped.Repositories, nil
}
