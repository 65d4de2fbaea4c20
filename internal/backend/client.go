// Package backend is the REST client for the CRM API. Every call carries the
// session hash as a query parameter and the static Bearer token as a header.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/valyala/fastjson"
	"github.com/wecrm/crmchat/internal/config"
	"go.uber.org/zap"
)

// maxBody caps how much of a response is read.
const maxBody = 16 << 20

// APIError is returned for non-2xx responses and for envelopes flagged with
// "error": true.
type APIError struct {
	Status   int
	Path     string
	Messages []string
}

func (e *APIError) Error() string {
	msg := strings.Join(e.Messages, "; ")
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Path, msg, e.Status)
}

// Client talks to the CRM REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	parsers    fastjson.ParserPool
}

// New creates a client from the [api] configuration.
func New(cfg config.API, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
		logger: logger.Named("backend"),
	}
}

// do performs a request and decodes the envelope's data field into out.
// out may be nil when the caller only cares about success.
func (c *Client) do(ctx context.Context, method, path, hash string, query url.Values, body any, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("hash", hash)
	u := c.baseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	c.logger.Debug("response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
	)

	data, err := c.unwrap(path, resp.StatusCode, raw)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// unwrap validates the status and envelope and returns the raw data field.
func (c *Client) unwrap(path string, status int, raw []byte) ([]byte, error) {
	p := c.parsers.Get()
	defer c.parsers.Put(p)

	v, perr := p.ParseBytes(raw)
	if status < 200 || status > 299 {
		apiErr := &APIError{Status: status, Path: path}
		if perr == nil {
			apiErr.Messages = envelopeMessages(v)
		}
		return nil, apiErr
	}
	if perr != nil {
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("decode %s envelope: %w", path, perr)
	}
	if v.Type() != fastjson.TypeObject {
		return raw, nil
	}
	if flag := v.Get("error"); flag != nil && truthy(flag) {
		return nil, &APIError{Status: status, Path: path, Messages: envelopeMessages(v)}
	}
	data := v.Get("data")
	if data == nil || data.Type() == fastjson.TypeNull {
		return nil, nil
	}
	return data.MarshalTo(nil), nil
}

func truthy(v *fastjson.Value) bool {
	switch v.Type() {
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeNumber:
		return v.GetFloat64() != 0
	case fastjson.TypeString:
		s := string(v.GetStringBytes())
		return s != "" && s != "0" && !strings.EqualFold(s, "false")
	}
	return false
}

// envelopeMessages collects messages from "messages" (string, array or
// field -> []string object) or "message".
func envelopeMessages(v *fastjson.Value) []string {
	var out []string
	var collect func(m *fastjson.Value)
	collect = func(m *fastjson.Value) {
		if m == nil {
			return
		}
		switch m.Type() {
		case fastjson.TypeString:
			if s := string(m.GetStringBytes()); s != "" {
				out = append(out, s)
			}
		case fastjson.TypeArray:
			for _, it := range m.GetArray() {
				collect(it)
			}
		case fastjson.TypeObject:
			m.GetObject().Visit(func(_ []byte, it *fastjson.Value) {
				collect(it)
			})
		}
	}
	collect(v.Get("messages"))
	collect(v.Get("message"))
	return out
}
