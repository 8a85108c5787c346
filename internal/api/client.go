package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tracksync/tracksync/internal/live"
	"github.com/tracksync/tracksync/internal/relocate"
)

const problemType = "application/problem+json"

// Client talks to a running server, it backs the command line.
type Client struct {
	baseURL *url.URL
	client  *http.Client
}

func NewClient(serverURL string) (*Client, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")

	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the server url with a scheme and without path, e.g. `http://localhost:8000`")
	}

	return &Client{
		baseURL: parsedURL,
		client:  &http.Client{},
	}, nil
}

// StartSync starts the job of one source.
func (c *Client) StartSync(ctx context.Context, sourceID int64) (StartResponse, error) {
	var ret StartResponse
	err := c.do(ctx, http.MethodPost, "api/sync/"+strconv.FormatInt(sourceID, 10), nil, nil, http.StatusOK, &ret)
	if err != nil {
		return StartResponse{}, err
	}
	slog.DebugContext(ctx, "sync requested",
		slog.Int64("source_id", ret.SourceID),
		slog.String("status", string(ret.Status)))
	return ret, nil
}

// StartAll asks the server to run every enabled source in the background.
func (c *Client) StartAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "api/sync/all", nil, nil, http.StatusAccepted, nil)
}

// Live returns the log lines of a source after cursor.
func (c *Client) Live(ctx context.Context, sourceID int64, cursor int) (live.Poll, error) {
	q := url.Values{"cursor": {strconv.Itoa(cursor)}}
	var ret live.Poll
	err := c.do(ctx, http.MethodGet, "api/sync/"+strconv.FormatInt(sourceID, 10)+"/live", q, nil, http.StatusOK, &ret)
	return ret, err
}

// MoveStatus returns the library relocation state and its log lines after
// cursor.
func (c *Client) MoveStatus(ctx context.Context, cursor int) (MoveStatus, error) {
	q := url.Values{"cursor": {strconv.Itoa(cursor)}}
	var ret MoveStatus
	err := c.do(ctx, http.MethodGet, "api/library/move", q, nil, http.StatusOK, &ret)
	return ret, err
}

// PreCheck reports what moving the library to newPath would do.
func (c *Client) PreCheck(ctx context.Context, newPath string) (relocate.PreCheckResult, error) {
	var ret relocate.PreCheckResult
	err := c.do(ctx, http.MethodPost, "api/library/precheck", nil, LibraryRequest{NewPath: newPath}, http.StatusOK, &ret)
	return ret, err
}

// StartMove starts moving the library to newPath.
func (c *Client) StartMove(ctx context.Context, newPath string) error {
	return c.do(ctx, http.MethodPost, "api/library/move", nil, LibraryRequest{NewPath: newPath}, http.StatusAccepted, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, want int, v any) error {
	u := *c.baseURL
	u.Path = "/" + path
	u.RawQuery = query.Encode()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return decodeResponse(resp, want, v)
}

func decodeResponse(resp *http.Response, want int, v any) error {
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("failed to parse response content type header: %w", err)
	}

	switch {
	case resp.StatusCode == want:
		if contentType != "application/json" {
			return fmt.Errorf("expected `application/json` content type, got: %s", contentType)
		}
		if v == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decoding json response failed: %w", err)
		}
		return nil
	case contentType == problemType:
		var p Problem
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return fmt.Errorf("decoding json response failed: %w", err)
		}
		return &StatusError{Code: resp.StatusCode, Detail: p.Detail}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}

// StatusError is a problem reported by the server.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status code: %d, detail: %s", e.Code, e.Detail)
}
