// Package store implements the HTTP record store access layer. The record
// store exposes tables over a REST interface (one resource per table, filters
// in the query string), and this package wraps that contract in a small
// generic client plus typed repositories for the tables the billing service
// touches: tenants, subscriptions, and audit_logs.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clinicbill/internal/external"
	"clinicbill/internal/types"
)

// restPathPrefix is the path prefix under which the record store exposes its
// tables.
const restPathPrefix = "/rest/v1/"

// Config holds the settings needed to reach the record store.
type Config struct {
	// URL is the record store base URL, without the /rest/v1 suffix.
	URL string
	// ServiceKey authenticates this service. It is sent both as the apikey
	// header and as a bearer token.
	ServiceKey types.SecretString
	Logger     *slog.Logger
}

// RequestOptions shapes a single table request.
type RequestOptions struct {
	// Filter maps column names to values; each pair is rendered as an
	// equality filter (column=eq.value) in the query string.
	Filter map[string]string
	// Select limits the returned columns (comma-separated column list).
	Select string
	// Limit caps the number of returned rows. Zero means no limit parameter.
	Limit int
	// Body is JSON-encoded as the request body for POST and PATCH.
	Body any
}

// Client is a thin generic client for the record store REST interface.
// Typed repositories (TenantRepo, SubscriptionRepo, AuditRepo) are built on
// top of it; handlers never call Request directly.
type Client struct {
	base    *external.BaseClient
	baseURL string
	key     string
	logger  *slog.Logger
}

// NewClient creates a record store client. It fails fast when the base URL or
// service key is absent so that misconfiguration surfaces at startup rather
// than on the first webhook delivery.
func NewClient(httpClient *http.Client, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, types.NewAppError(
			types.ErrCodeInternalConfig,
			"record store URL is not configured",
			nil,
		)
	}
	key := cfg.ServiceKey.Unmask()
	if key == "" {
		return nil, types.NewAppError(
			types.ErrCodeInternalConfig,
			"record store service key is not configured",
			nil,
		)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := external.NewBaseClient(
		httpClient,
		"record-store",
		external.DefaultRetryPolicy(),
		"ClinicBill/1.0",
	)

	return &Client{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		key:     key,
		logger:  logger,
	}, nil
}

// NewClientWithBase creates a Client with a pre-configured BaseClient.
// Intended for tests that need to control retry or sleep behavior.
func NewClientWithBase(base *external.BaseClient, cfg Config) (*Client, error) {
	c, err := NewClient(http.DefaultClient, cfg)
	if err != nil {
		return nil, err
	}
	c.base = base
	return c, nil
}

// Request performs a single table operation and returns the raw response
// body. The URL is <base>/rest/v1/<table> with filters, column selection, and
// limit in the query string. Writes (POST, PATCH) carry a JSON body and ask
// the store to return the affected rows so callers can distinguish "updated
// nothing" from "updated one row".
//
// A non-2xx response is returned as a types.AppError carrying the method,
// table, status, and response body text; callers decide whether that error is
// fatal for the operation in flight.
func (c *Client) Request(ctx context.Context, method string, table string, opts RequestOptions) ([]byte, error) {
	reqURL, err := c.buildURL(table, opts)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if opts.Body != nil {
		encoded, marshalErr := json.Marshal(opts.Body)
		if marshalErr != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				fmt.Sprintf("failed to encode %s %s request body", method, table),
				marshalErr,
			)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to build %s %s request", method, table),
			err,
		)
	}

	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalStore,
			fmt.Sprintf("record store %s %s failed", method, table),
			err,
		)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalStore,
			fmt.Sprintf("record store %s %s: response body unreadable", method, table),
			err,
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeInternalStore,
			fmt.Sprintf("record store %s %s returned %d: %s", method, table, resp.StatusCode, string(respBody)),
			nil,
			map[string]any{
				"method": method,
				"table":  table,
				"status": resp.StatusCode,
			},
		)
	}

	return respBody, nil
}

// buildURL assembles the request URL from the table name and options.
func (c *Client) buildURL(table string, opts RequestOptions) (string, error) {
	if table == "" {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"record store request requires a table name",
			nil,
		)
	}

	params := url.Values{}
	for column, value := range opts.Filter {
		params.Set(column, "eq."+value)
	}
	if opts.Select != "" {
		params.Set("select", opts.Select)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	reqURL := c.baseURL + restPathPrefix + table
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL, nil
}

// nowTimestamp returns the current UTC time formatted for the record store's
// timestamp columns.
func nowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
