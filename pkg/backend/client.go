// Package backend is an HTTP client for the document-processing backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

// Client talks to the backend API. Every authenticated method takes the
// bearer token explicitly; callers get it from their session.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for baseURL with the given per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// VerifyWallet exchanges a signed challenge for a bearer token.
func (c *Client) VerifyWallet(ctx context.Context, address, signature string) (*AuthResponse, error) {
	const op = "verify wallet"
	body, err := json.Marshal(map[string]string{"address": address, "signature": signature})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	respBody, _, err := c.do(ctx, op, http.MethodPost, "/auth/verify", "", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var auth AuthResponse
	if err := json.Unmarshal(respBody, &auth); err != nil {
		return nil, &ProtocolError{Op: op, Reason: "invalid response format", Err: err}
	}
	if auth.Token == "" {
		return nil, &ProtocolError{Op: op, Reason: "response does not contain a token"}
	}
	return &auth, nil
}

// ProcessFiles uploads a batch of files in one multipart request.
func (c *Client) ProcessFiles(ctx context.Context, token string, files []FilePart) (*Acceptance, error) {
	const op = "process files"
	if token == "" {
		return nil, ErrUnauthenticated
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: no files", op)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		if f.ID != "" {
			if err := mw.WriteField("documentId", f.ID); err != nil {
				return nil, fmt.Errorf("writing form field: %w", err)
			}
		}
		part, err := mw.CreateFormFile("file", f.Name)
		if err != nil {
			return nil, fmt.Errorf("creating form file: %w", err)
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	respBody, status, err := c.do(ctx, op, http.MethodPost, "/process-file/", token, mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	return &Acceptance{StatusCode: status, Confirmations: parseConfirmations(respBody)}, nil
}

// parseConfirmations accepts either a bare array of confirmations or an
// object with a "documents" array. Any other body confirms nothing.
func parseConfirmations(body []byte) []Confirmation {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	var list []Confirmation
	if body[0] == '[' {
		if err := json.Unmarshal(body, &list); err != nil {
			return nil
		}
	} else {
		var wrapped struct {
			Documents []Confirmation `json:"documents"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil
		}
		list = wrapped.Documents
	}
	out := list[:0]
	for _, c := range list {
		if c.DocumentID != "" {
			out = append(out, c)
		}
	}
	return out
}

// GenerateAnswer asks the backend a question, optionally scoped to one
// processed document (empty documentID means no document context). Only the
// "answer" field of the response is returned.
func (c *Client) GenerateAnswer(ctx context.Context, token, query, documentID string) (string, error) {
	const op = "generate answer"
	if token == "" {
		return "", ErrUnauthenticated
	}
	body, err := json.Marshal(map[string]string{"query": query, "documentId": documentID})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	respBody, _, err := c.do(ctx, op, http.MethodPost, "/generate-answer/", token, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	return extractAnswer(op, respBody)
}

func extractAnswer(op string, body []byte) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return "", &ProtocolError{Op: op, Reason: "invalid response format", Err: err}
	}
	raw, ok := obj["answer"]
	if !ok {
		return "", &ProtocolError{Op: op, Reason: "response does not contain an answer"}
	}
	if string(raw) == "null" {
		return "", nil
	}
	var answer string
	if err := json.Unmarshal(raw, &answer); err != nil {
		// Non-string answers are rendered as their JSON text.
		return string(raw), nil
	}
	return answer, nil
}

// UploadModel sends a model artifact and its metadata.
func (c *Client) UploadModel(ctx context.Context, token, name string, r io.Reader, metadata map[string]string) (*ModelUploadResponse, error) {
	const op = "upload model"
	if token == "" {
		return nil, ErrUnauthenticated
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := mw.WriteField("metadata", string(meta)); err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	respBody, _, err := c.do(ctx, op, http.MethodPost, "/models/upload", token, mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	var out ModelUploadResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &ProtocolError{Op: op, Reason: "invalid response format", Err: err}
	}
	if !out.Success && out.Error != "" {
		return &out, fmt.Errorf("%s: %s", op, out.Error)
	}
	return &out, nil
}

// DownloadModel asks the backend to fetch a model by content id.
func (c *Client) DownloadModel(ctx context.Context, token, cid string) (*ModelDownloadResponse, error) {
	const op = "download model"
	body, err := json.Marshal(map[string]string{"cid": cid})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	respBody, _, err := c.do(ctx, op, http.MethodPost, "/models/download", token, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out ModelDownloadResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &ProtocolError{Op: op, Reason: "invalid response format", Err: err}
	}
	return &out, nil
}

// do sends one request and returns the body of a 2xx response. Anything else
// becomes a TransportError.
func (c *Client) do(ctx context.Context, op, method, path, token, contentType string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := string(respBody)
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		return nil, resp.StatusCode, &TransportError{Op: op, StatusCode: resp.StatusCode, Body: excerpt}
	}
	return respBody, resp.StatusCode, nil
}
