// Package client speaks the exam server's HTTP and websocket API on behalf of
// one student. It implements the monitor's network ports.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zaqqye/exam_guard/internal/integrity"
	"github.com/zaqqye/exam_guard/internal/monitor"
	"github.com/zaqqye/exam_guard/internal/session"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server answered %d", e.Status)
	}
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type Client struct {
	base *url.URL
	http *http.Client
	log  *slog.Logger

	mu     sync.Mutex
	token  string
	userID string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithToken resumes a session obtained earlier.
func WithToken(token, userID string) Option {
	return func(c *Client) {
		c.token = token
		c.userID = userID
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("base url %q must be http or https", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
}

// Login opens a new session. Any earlier session of the same student is
// superseded by the server.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var res LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login", body, &res); err != nil {
		return nil, errors.Wrap(err, "login")
	}
	c.mu.Lock()
	c.token = res.AccessToken
	c.userID = res.UserID
	c.mu.Unlock()
	c.log.Debug("session opened", "user_id", res.UserID, "session_id", res.SessionID)
	return &res, nil
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return errors.Wrap(err, "logout")
}

// CheckSession asks whether this session is still the student's active one.
// A mismatch arrives as 401 with a verdict body and is not an error.
func (c *Client) CheckSession(ctx context.Context) (session.Verdict, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/check-session", "", nil)
	if err != nil {
		return session.Verdict{}, errors.Wrap(err, "check session")
	}
	defer resp.Body.Close()

	var body struct {
		Valid  *bool          `json:"valid"`
		Reason session.Reason `json:"reason"`
		Error  string         `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &body)

	switch {
	case body.Valid == nil, resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnauthorized:
		return session.Verdict{}, errors.Wrap(apiError(resp.StatusCode, raw), "check session")
	case *body.Valid:
		return session.Valid(), nil
	default:
		return session.Invalid(body.Reason), nil
	}
}

// Report sends one integrity event.
func (c *Client) Report(ctx context.Context, examID, userID string, ev integrity.EventType) error {
	body := map[string]string{"examId": examID, "userId": userID, "eventType": string(ev)}
	return errors.Wrapf(c.doJSON(ctx, http.MethodPost, "/update-integrity", body, nil), "report %s", ev)
}

// Ping sends the activity heartbeat.
func (c *Client) Ping(ctx context.Context, examID, userID string, at time.Time) error {
	body := map[string]any{
		"examId":    examID,
		"userId":    userID,
		"status":    "active",
		"timestamp": at.UTC(),
	}
	return errors.Wrap(c.doJSON(ctx, http.MethodPost, "/dashboard/see-active", body, nil), "ping")
}

// UploadCapture posts one webcam frame as multipart form data.
func (c *Client) UploadCapture(ctx context.Context, examID, userID string, image []byte) error {
	var buf bytes.Buffer
	contentType, err := writeCaptureForm(&buf, examID, userID, image)
	if err != nil {
		return errors.Wrap(err, "upload capture")
	}
	resp, err := c.send(ctx, http.MethodPost, "/save-image", contentType, &buf)
	if err != nil {
		return errors.Wrap(err, "upload capture")
	}
	return errors.Wrap(decode(resp, nil), "upload capture")
}

// writeCaptureForm encodes the capture upload form and returns its content
// type.
func writeCaptureForm(w io.Writer, examID, userID string, image []byte) (string, error) {
	mw := multipart.NewWriter(w)
	for _, f := range [][2]string{{"examId", examID}, {"userId", userID}} {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", errors.Wrapf(err, "write %s", f[0])
		}
	}
	part, err := mw.CreateFormFile("image", "capture.jpg")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(image); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return mw.FormDataContentType(), nil
}

type SubmitResult struct {
	Message     string    `json:"message"`
	ExamID      string    `json:"exam_id"`
	Reason      string    `json:"reason"`
	SubmittedAt time.Time `json:"submitted_at"`
	Redirect    string    `json:"redirect"`
}

// SubmitExam stores the final answer sheet.
func (c *Client) SubmitExam(ctx context.Context, s monitor.Submission) (*SubmitResult, error) {
	body := map[string]any{
		"reason":     s.Reason,
		"answers":    s.Answers,
		"violations": s.Counters,
	}
	var res SubmitResult
	path := "/dashboard/test/" + url.PathEscape(s.ExamID) + "/submit"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, errors.Wrap(err, "submit exam")
	}
	return &res, nil
}

type ExamInfo struct {
	ExamID          string    `json:"exam_id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	ScheduleTill    time.Time `json:"schedule_till"`
}

// Bootstrap is what the exam page needs before the monitor starts.
type Bootstrap struct {
	Exam       ExamInfo           `json:"exam"`
	UserID     string             `json:"user_id"`
	Submitted  bool               `json:"submitted"`
	Policy     monitor.WirePolicy `json:"policy"`
	ServerTime time.Time          `json:"server_time"`
}

// MonitorExam converts the bootstrap into the monitor's attempt description.
func (b *Bootstrap) MonitorExam() monitor.Exam {
	return monitor.Exam{
		ExamID:   b.Exam.ExamID,
		UserID:   b.UserID,
		Duration: time.Duration(b.Exam.DurationMinutes) * time.Minute,
		OpensAt:  b.Exam.ScheduledAt,
		ClosesAt: b.Exam.ScheduleTill,
	}
}

func (c *Client) Exam(ctx context.Context, examID string) (*Bootstrap, error) {
	var b Bootstrap
	if err := c.doJSON(ctx, http.MethodGet, "/dashboard/test/"+url.PathEscape(examID), nil, &b); err != nil {
		return nil, errors.Wrapf(err, "load exam %s", examID)
	}
	return &b, nil
}

// Policy fetches the integrity policy without authenticating.
func (c *Client) Policy(ctx context.Context) (monitor.Policy, error) {
	var body struct {
		Policy monitor.WirePolicy `json:"policy"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/config/integrity", nil, &body); err != nil {
		return monitor.Policy{}, errors.Wrap(err, "load policy")
	}
	return body.Policy.Policy(), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var (
		body        io.Reader
		contentType string
	)
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	resp, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return resp, nil
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decode response")
}

func apiError(status int, raw []byte) *APIError {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &APIError{Status: status, Message: body.Error}
}

// Submitter adapts a Client to the monitor's submit port. OnRedirect receives
// the page the exam leaves to.
type Submitter struct {
	Client     *Client
	OnRedirect func(path string)
}

func (s Submitter) Submit(ctx context.Context, sub monitor.Submission) error {
	_, err := s.Client.SubmitExam(ctx, sub)
	return err
}

func (s Submitter) Redirect(path string) {
	if s.OnRedirect != nil {
		s.OnRedirect(path)
	}
}
