// Package httpapi implements the paginated-HTTP source adapter. The
// upstream exposes GET /users and GET /departments returning pages of
// {"count": N, "results": [...]}; the adapter walks all pages and retries
// 429 and 5xx responses with exponential backoff within a bounded attempt
// budget.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter"
)

// Config holds the upstream endpoint settings for one data source.
type Config struct {
	// BaseURL is the root of the identity API, without a trailing slash.
	BaseURL string `json:"base_url" validate:"required,url"`
	// Token is the bearer token sent with every request, optional.
	Token string `json:"token"`
	// PageSize bounds each page request.
	PageSize int `json:"page_size" validate:"min=0,max=1000"`
	// Timeout is the per-request timeout in seconds.
	Timeout int `json:"timeout" validate:"min=0,max=600"`
	// MaxRetries bounds the retry attempts per page on 429/5xx.
	MaxRetries int `json:"max_retries" validate:"min=0,max=10"`
}

// SetDefaults fills conservative bounds for unset fields.
func (c *Config) SetDefaults() {
	if c.PageSize == 0 {
		c.PageSize = 100
	}

	if c.Timeout == 0 {
		c.Timeout = 30
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Client is the paginated-HTTP source adapter.
type Client struct {
	config *Config
	http   *http.Client
}

// New creates a Client from a validated configuration.
func New(config *Config) *Client {
	config.SetDefaults()

	return &Client{
		config: config,
		http: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}
}

type page struct {
	Count   int               `json:"count"`
	Results []json.RawMessage `json:"results"`
}

type wireUser struct {
	Code        string            `json:"code"`
	Username    string            `json:"username"`
	FullName    string            `json:"full_name"`
	Email       string            `json:"email"`
	Phone       string            `json:"phone"`
	Leaders     []string          `json:"leaders"`
	Departments []string          `json:"departments"`
	Extras      map[string]string `json:"extras"`
}

type wireDepartment struct {
	Code       string            `json:"code"`
	Name       string            `json:"name"`
	ParentCode string            `json:"parent_code"`
	Order      int               `json:"order"`
	Extras     map[string]string `json:"extras"`
}

// fetchPage issues one GET with retry on 429/5xx. Other failures are
// returned immediately, classified for the orchestrator.
func (c *Client) fetchPage(ctx context.Context, path string, pageNum int) (*page, error) {
	endpoint, err := url.Parse(c.config.BaseURL + path)
	if err != nil {
		return nil, adapter.NewFormatErrorCause("parse base url", err)
	}

	query := endpoint.Query()
	query.Set("page", strconv.Itoa(pageNum))
	query.Set("page_size", strconv.Itoa(c.config.PageSize))
	endpoint.RawQuery = query.Encode()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.config.MaxRetries)),
		ctx,
	)

	var result page

	operation := func() error {
		request, errReq := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if errReq != nil {
			return backoff.Permanent(adapter.NewFormatErrorCause("build request", errReq))
		}

		if c.config.Token != "" {
			request.Header.Set("Authorization", "Bearer "+c.config.Token)
		}

		response, errDo := c.http.Do(request)
		if errDo != nil {
			// Transport failures are retried within the attempt budget.
			return adapter.NewConnectivityError("fetch "+path, errDo)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, response.Body)
			_ = response.Body.Close()
		}()

		switch {
		case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
			return backoff.Permanent(adapter.NewAuthError(
				"fetch "+path,
				fmt.Errorf("upstream returned status %d", response.StatusCode),
			))
		case response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500:
			return adapter.NewConnectivityError(
				"fetch "+path,
				fmt.Errorf("upstream returned status %d", response.StatusCode),
			)
		case response.StatusCode != http.StatusOK:
			return backoff.Permanent(adapter.NewFormatError(
				"fetch "+path,
				fmt.Sprintf("unexpected status %d", response.StatusCode),
			))
		}

		if errDecode := json.NewDecoder(response.Body).Decode(&result); errDecode != nil {
			return backoff.Permanent(adapter.NewFormatErrorCause("decode "+path, errDecode))
		}

		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	return &result, nil
}

// fetchAll walks every page of the given collection.
func (c *Client) fetchAll(ctx context.Context, path string) ([]json.RawMessage, error) {
	var records []json.RawMessage

	for pageNum := 1; ; pageNum++ {
		result, err := c.fetchPage(ctx, path, pageNum)
		if err != nil {
			return nil, err
		}

		records = append(records, result.Results...)

		if len(result.Results) < c.config.PageSize || len(records) >= result.Count {
			break
		}
	}

	return records, nil
}

// FetchUsers returns the complete user snapshot.
func (c *Client) FetchUsers(ctx context.Context) ([]adapter.RawUser, error) {
	records, err := c.fetchAll(ctx, "/users")
	if err != nil {
		return nil, err
	}

	users := make([]adapter.RawUser, 0, len(records))
	seen := make(map[string]bool, len(records))

	for _, record := range records {
		var user wireUser
		if errDecode := json.Unmarshal(record, &user); errDecode != nil {
			return nil, adapter.NewFormatErrorCause("decode user", errDecode)
		}

		if user.Code == "" {
			return nil, adapter.NewFormatError("decode user", "user record without a code")
		}

		if seen[user.Code] {
			return nil, adapter.NewFormatError("decode user", "duplicate user code "+user.Code)
		}

		seen[user.Code] = true

		properties := map[string]string{
			"username":  user.Username,
			"full_name": user.FullName,
			"email":     user.Email,
			"phone":     user.Phone,
		}
		for key, value := range user.Extras {
			properties[key] = value
		}

		users = append(users, adapter.RawUser{
			Code:        user.Code,
			Properties:  properties,
			Leaders:     user.Leaders,
			Departments: user.Departments,
		})
	}

	return users, nil
}

// FetchDepartments returns the complete department snapshot.
func (c *Client) FetchDepartments(ctx context.Context) ([]adapter.RawDepartment, error) {
	records, err := c.fetchAll(ctx, "/departments")
	if err != nil {
		return nil, err
	}

	departments := make([]adapter.RawDepartment, 0, len(records))
	seen := make(map[string]bool, len(records))

	for _, record := range records {
		var dept wireDepartment
		if errDecode := json.Unmarshal(record, &dept); errDecode != nil {
			return nil, adapter.NewFormatErrorCause("decode department", errDecode)
		}

		if dept.Code == "" {
			return nil, adapter.NewFormatError("decode department", "department record without a code")
		}

		if seen[dept.Code] {
			return nil, adapter.NewFormatError("decode department", "duplicate department code "+dept.Code)
		}

		seen[dept.Code] = true

		departments = append(departments, adapter.RawDepartment{
			Code:       dept.Code,
			Name:       dept.Name,
			ParentCode: dept.ParentCode,
			Order:      dept.Order,
			Extras:     dept.Extras,
		})
	}

	return departments, nil
}

// TestConnection fetches the first user page as a probe.
func (c *Client) TestConnection(ctx context.Context) (*adapter.TestResult, error) {
	start := time.Now()

	result, err := c.fetchPage(ctx, "/users", 1)
	if err != nil {
		return nil, err
	}

	return &adapter.TestResult{
		Latency: time.Since(start),
		Message: fmt.Sprintf("upstream reachable, %d users reported", result.Count),
	}, nil
}
