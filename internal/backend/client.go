// Package backend is a typed client for the KAIA analysis service.
//
// The client imposes no deadlines of its own. Callers bound each call
// through the context they pass in.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/hpungsan/kaia/internal/errors"
	"github.com/hpungsan/kaia/internal/normalize"
)

// maxResponseBytes caps how much of any reply is read.
const maxResponseBytes = 4 << 20

// Phases name the calls for timeout reporting.
const (
	PhaseMe       = "me"
	PhaseUpload   = "upload"
	PhaseAnalyze  = "analyze"
	PhaseLogin    = "login"
	PhaseRegister = "register"
	PhaseHistory  = "history"
)

// RequestIDHeader carries a fresh id on every outgoing call.
const RequestIDHeader = "X-Request-ID"

// Status values the backend uses in reply bodies.
const (
	StatusSuccess         = "success"
	StatusUpgradeRequired = "upgrade_required"
	StatusOutOfCredits    = "out_of_credits"
)

// Client talks to the backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL. A nil hc uses http.DefaultClient.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

// BaseURL returns the service root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Me fetches the profile for token. Any non-2xx reply means the credential
// is no longer valid.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/me", nil)
	if err != nil {
		return nil, err
	}
	setBearer(req, token)

	status, body, err := c.do(req, PhaseMe)
	if err != nil {
		return nil, err
	}
	if !ok2xx(status) {
		return nil, errors.NewUnauthenticated()
	}

	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, errors.NewTransport(fmt.Errorf("decode profile: %w", err))
	}
	if u.Credits < 0 {
		u.Credits = 0
	}
	return &u, nil
}

// UploadChart uploads an image and returns the server-side filename.
func (c *Client) UploadChart(ctx context.Context, f ChartFile) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="chart"; filename=%q`, safeFilename(f.Name)))
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return "", errors.NewInternal(err)
	}
	if err := w.Close(); err != nil {
		return "", errors.NewInternal(err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload-chart", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	status, body, err := c.do(req, PhaseUpload)
	if err != nil {
		return "", err
	}
	if err := classify(status, body); err != nil {
		return "", err
	}

	var out struct {
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errors.NewTransport(fmt.Errorf("decode upload reply: %w", err))
	}
	if strings.TrimSpace(out.Filename) == "" {
		return "", errors.NewTransport(fmt.Errorf("upload reply has no filename"))
	}
	return out.Filename, nil
}

// AnalyzeChart requests an analysis of a previously uploaded chart.
func (c *Client) AnalyzeChart(ctx context.Context, token string, ar AnalyzeRequest) (*AnalyzeResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"filename", ar.Filename},
		{"timeframe", ar.Timeframe},
		{"analysis_type", ar.AnalysisType},
		{"lang", ar.Lang},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, errors.NewInternal(err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.NewInternal(err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/analyze-chart", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	setBearer(req, token)

	status, body, err := c.do(req, PhaseAnalyze)
	if err != nil {
		return nil, err
	}
	if err := classify(status, body); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var envelope map[string]any
	if err := dec.Decode(&envelope); err != nil || envelope == nil {
		return nil, errors.NewTransport(fmt.Errorf("decode analyze reply: %v", err))
	}

	resp := &AnalyzeResponse{
		Status:   stringField(envelope, "status"),
		Analysis: envelope["analysis"],
		TierMode: stringField(envelope, "tier_mode"),
		Envelope: envelope,
	}
	if n, ok := intField(envelope, "remaining_credits"); ok {
		resp.RemainingCredits = &n
	}
	return resp, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	form := url.Values{}
	form.Set("username", strings.ToLower(strings.TrimSpace(email)))
	form.Set("password", password)

	req, err := c.newRequest(ctx, http.MethodPost, "/api/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	status, body, err := c.do(req, PhaseLogin)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized {
		// A rejected login is not an expired session; show the server's text.
		return "", errors.NewInvalidRequest(detailOr(body, "Invalid email or password."))
	}
	if err := classify(status, body); err != nil {
		return "", err
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.AccessToken == "" {
		return "", errors.NewTransport(fmt.Errorf("login reply has no access token"))
	}
	return out.AccessToken, nil
}

// Register creates an account. Field checks run before any network call.
func (c *Client) Register(ctx context.Context, r RegisterRequest) error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FullName = strings.TrimSpace(r.FullName)
	if r.Email == "" || r.Password == "" {
		return errors.NewInvalidRequest("email and password are required")
	}
	if r.Password != r.ConfirmPassword {
		return errors.NewInvalidRequest("passwords do not match")
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return errors.NewInternal(err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/register", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req, PhaseRegister)
	if err != nil {
		return err
	}
	if status == http.StatusBadRequest {
		return errors.NewInvalidRequest(detailOr(body, "registration was rejected"))
	}
	return classify(status, body)
}

// History lists the analyses the server recorded for token.
func (c *Client) History(ctx context.Context, token string) ([]RemoteAnalysis, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/history", nil)
	if err != nil {
		return nil, err
	}
	setBearer(req, token)

	status, body, err := c.do(req, PhaseHistory)
	if err != nil {
		return nil, err
	}
	if err := classify(status, body); err != nil {
		return nil, err
	}

	var out []RemoteAnalysis
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.NewTransport(fmt.Errorf("decode history: %w", err))
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.New().String())
	return req, nil
}

// do executes req and reads the bounded body. Network failures become
// TRANSPORT, an expired context becomes TIMEOUT for phase.
func (c *Client) do(req *http.Request, phase string) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, transportErr(req.Context(), err, phase)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, transportErr(req.Context(), err, phase)
	}
	return resp.StatusCode, body, nil
}

func transportErr(ctx context.Context, err error, phase string) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewTimeout(phase)
	}
	return errors.NewTransport(err)
}

// replyBody is the loose shape of an error or status reply.
type replyBody struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Detail any    `json:"detail"`
}

// classify maps a reply onto the error taxonomy. It returns nil for a
// 2xx reply that does not carry a tier block.
func classify(status int, body []byte) error {
	var rb replyBody
	parsed := len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &rb) == nil

	code, detail := "", ""
	if parsed {
		code, detail = detailParts(rb)
	}

	if parsed && (rb.Status == StatusUpgradeRequired || code == StatusUpgradeRequired) {
		return errors.NewUpgradeRequired(detail)
	}
	if ok2xx(status) {
		return nil
	}
	if parsed && (rb.Status == StatusOutOfCredits || code == StatusOutOfCredits) {
		return errors.NewOutOfCredits(detail)
	}
	if status == http.StatusUnauthorized {
		return errors.NewUnauthenticated()
	}
	if status == http.StatusPaymentRequired || isCreditDetail(detail) {
		return errors.NewOutOfCredits(detail)
	}
	if status == http.StatusForbidden {
		return errors.NewUnauthenticated()
	}
	if parsed && detail != "" {
		return errors.NewBackend(status, detail)
	}
	return errors.NewTransport(fmt.Errorf("backend returned HTTP %d", status))
}

// detailParts splits the detail field, which is either a string, an object
// with code/message, or a validation error list.
func detailParts(rb replyBody) (code, detail string) {
	code = rb.Code
	switch d := rb.Detail.(type) {
	case nil:
	case string:
		detail = strings.TrimSpace(d)
	case map[string]any:
		if c, ok := d["code"].(string); ok && code == "" {
			code = c
		}
		if m, ok := d["message"].(string); ok {
			detail = strings.TrimSpace(m)
		} else {
			detail = normalize.Text(d)
		}
	default:
		detail = normalize.Text(d)
	}
	if detail == normalize.Placeholder {
		detail = ""
	}
	return strings.ToLower(code), detail
}

var creditPhrases = []string{
	"insufficient credit",
	"out of credit",
	"not enough credit",
	"no credits",
	"الرصيد",
}

func isCreditDetail(detail string) bool {
	lower := strings.ToLower(detail)
	for _, p := range creditPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func detailOr(body []byte, fallback string) string {
	var rb replyBody
	if json.Unmarshal(body, &rb) == nil {
		if _, detail := detailParts(rb); detail != "" {
			return detail
		}
	}
	return fallback
}

func ok2xx(status int) bool {
	return status >= 200 && status < 300
}

func setBearer(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func safeFilename(name string) string {
	name = strings.NewReplacer("\r", "", "\n", "", "\"", "").Replace(name)
	if name == "" {
		return "chart.png"
	}
	return name
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
		if f, err := v.Float64(); err == nil {
			return int(f), true
		}
	case float64:
		return int(v), true
	}
	return 0, false
}
