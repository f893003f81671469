package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cafecursor/cafecursor/internal/cards"
)

// Wire types shared with the server.
type (
	Card         = cards.View
	FeedPage     = cards.Page
	LikeResult   = cards.LikeResult
	CardInput    = cards.CardInput
	Notification = cards.Notification
)

const (
	defaultUserAgent = "cafecursor-cli/0.1"
	requestTimeout   = 10 * time.Second
	imageFormField   = "image"
)

// Client talks to the Cafe Cursor HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	stream    *http.Client
	token     string
	userAgent string
}

// ClientConfig configures a Client. HTTPClient is optional.
type ClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	UserAgent  string
}

func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:   base,
		http:      httpClient,
		stream:    &http.Client{Transport: httpClient.Transport},
		token:     strings.TrimSpace(cfg.Token),
		userAgent: userAgent,
	}, nil
}

// Authenticated reports whether the client carries a session token.
func (c *Client) Authenticated() bool {
	return c != nil && c.token != ""
}

func (c *Client) ListFeed(ctx context.Context, offset, limit int) (FeedPage, error) {
	values := url.Values{}
	values.Set("offset", strconv.Itoa(offset))
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var page FeedPage
	err := c.doURL(ctx, http.MethodGet, &url.URL{Path: "/cards", RawQuery: values.Encode()}, nil, &page)
	return page, err
}

// GetCard loads a card by id or slug.
func (c *Client) GetCard(ctx context.Context, ref string) (Card, error) {
	var card Card
	err := c.do(ctx, http.MethodGet, cardPath(ref), nil, &card)
	return card, err
}

func (c *Client) CreateCard(ctx context.Context, input CardInput) (Card, error) {
	var card Card
	err := c.do(ctx, http.MethodPost, "/cards", input, &card)
	return card, err
}

func (c *Client) UpdateCard(ctx context.Context, id string, input CardInput) (Card, error) {
	var card Card
	err := c.do(ctx, http.MethodPut, cardPath(id), input, &card)
	return card, err
}

func (c *Client) DeleteCard(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, cardPath(id), nil, nil)
}

func (c *Client) LikeCard(ctx context.Context, id string) (LikeResult, error) {
	var result LikeResult
	err := c.do(ctx, http.MethodPost, cardPath(id)+"/like", nil, &result)
	return result, err
}

func (c *Client) UnlikeCard(ctx context.Context, id string) (LikeResult, error) {
	var result LikeResult
	err := c.do(ctx, http.MethodDelete, cardPath(id)+"/like", nil, &result)
	return result, err
}

func (c *Client) ListNotifications(ctx context.Context, limit int) ([]Notification, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var notifications []Notification
	err := c.doURL(ctx, http.MethodGet, &url.URL{Path: "/notifications", RawQuery: values.Encode()}, nil, &notifications)
	return notifications, err
}

// UploadImage sends a photo as multipart form data and returns its public URL.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	buffer := new(bytes.Buffer)
	writer := multipart.NewWriter(buffer)
	part, err := writer.CreateFormFile(imageFormField, filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, &url.URL{Path: "/images"}, buffer)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var payload struct {
		URL string `json:"url"`
	}
	if err := c.send(c.http, req, &payload); err != nil {
		return "", err
	}
	return payload.URL, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	return c.doURL(ctx, method, &url.URL{Path: path}, body, dest)
}

func (c *Client) doURL(ctx context.Context, method string, rel *url.URL, body, dest any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, rel, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(c.http, req, dest)
}

func (c *Client) newRequest(ctx context.Context, method string, rel *url.URL, body io.Reader) (*http.Request, error) {
	reqURL := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (c *Client) send(httpClient *http.Client, req *http.Request, dest any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var payload envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&payload)
	if resp.StatusCode >= 400 {
		if decodeErr != nil || payload.Error == "" {
			return &Error{Status: resp.StatusCode, Code: "http_error", Message: http.StatusText(resp.StatusCode)}
		}
		return &Error{Status: resp.StatusCode, Code: payload.Error, Message: payload.Message}
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if dest == nil || len(payload.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload.Data, dest); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func cardPath(ref string) string {
	return "/cards/" + url.PathEscape(strings.TrimSpace(ref))
}

func parseBaseURL(raw string) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if !strings.Contains(value, "://") {
		value = "http://" + value
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("api url %q has no host", raw)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}
