// Package rest is the request/response channel to the chat backend: listing
// conversations, pulling history, sending messages and marking them read.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

// ErrNoBaseURL is returned by NewClient when the backend address is empty.
var ErrNoBaseURL = errors.New("rest: base url is required")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("rest: backend returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// SendRequest is the body of a send call. The sender is derived from the
// bearer token on the server side.
type SendRequest struct {
	PartnerID int64  `json:"partnerId"`
	Content   string `json:"content"`
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// NewClient builds a Client for the backend at opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, ErrNoBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    base,
		token:      opts.Token,
		httpClient: httpClient,
		logger:     utils.OrDefault(opts.Logger).WithField("component", "rest"),
	}, nil
}

// FetchConversations lists every conversation of the authenticated user.
func (c *Client) FetchConversations(ctx context.Context) ([]chat.ConversationSummary, error) {
	var summaries []chat.ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations", nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// FetchHistory returns the full message history with partnerID.
func (c *Client) FetchHistory(ctx context.Context, partnerID int64) ([]chat.Message, error) {
	var messages []chat.Message
	path := "/api/chat/conversations/" + strconv.FormatInt(partnerID, 10) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage stores a message and returns its confirmed form.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (chat.Message, error) {
	var confirmed chat.Message
	if err := c.do(ctx, http.MethodPost, "/api/chat/messages", req, &confirmed); err != nil {
		return chat.Message{}, err
	}
	if confirmed.ID == 0 {
		return chat.Message{}, errors.New("rest: send response carries no message id")
	}
	return confirmed, nil
}

// MarkAsRead marks every message partnerID sent to the local user as read.
func (c *Client) MarkAsRead(ctx context.Context, partnerID int64) error {
	path := "/api/chat/conversations/" + strconv.FormatInt(partnerID, 10) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, requestBody, out any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := sonic.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("rest: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("rest: create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("rest: read response body: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   response.StatusCode,
		"duration": time.Since(start),
	}).Debug("request finished")

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: response.StatusCode}
		if len(bytes.TrimSpace(responseBody)) > 0 {
			if jsonErr := sonic.Unmarshal(responseBody, apiErr); jsonErr != nil {
				apiErr.Message = strings.TrimSpace(string(responseBody))
			}
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(responseBody)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("rest: decode %s %s response: %w", method, path, err)
	}
	return nil
}
