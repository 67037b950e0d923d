package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
)

// Client is the HTTP implementation of Authority.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for baseURL (e.g. http://host/api/v1).
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Start(ctx context.Context, count, durationSec int) (*model.StartExamResponse, error) {
	var out model.StartExamResponse
	body := model.StartExamRequest{Count: count, DurationSec: durationSec}
	if err := c.do(ctx, http.MethodPost, "/exams", nil, body, &out); err != nil {
		return nil, fmt.Errorf("start exam: %w", err)
	}
	if out.ExamID == "" {
		return nil, fmt.Errorf("start exam: authority returned no exam id")
	}
	return &out, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, examID, questionID string, selected []string) error {
	if selected == nil {
		selected = []string{}
	}
	q := url.Values{"questionId": {questionID}}
	path := "/exams/" + url.PathEscape(examID) + "/answer"
	if err := c.do(ctx, http.MethodPost, path, q, model.AnswerRequest{Selected: selected}, nil); err != nil {
		return fmt.Errorf("submit answer: %w", err)
	}
	return nil
}

func (c *Client) Finish(ctx context.Context, examID string) (*model.FinishResult, error) {
	var out model.FinishResult
	path := "/exams/" + url.PathEscape(examID) + "/finish"
	if err := c.do(ctx, http.MethodPost, path, nil, struct{}{}, &out); err != nil {
		return nil, fmt.Errorf("finish exam: %w", err)
	}
	return &out, nil
}

func (c *Client) GetSession(ctx context.Context, examID string) (*model.ExamDetail, error) {
	var out model.ExamDetail
	if err := c.do(ctx, http.MethodGet, "/exams/"+url.PathEscape(examID), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return &out, nil
}

func (c *Client) ListExams(ctx context.Context, limit, offset int) (*model.ExamList, error) {
	var out model.ExamList
	q := url.Values{"limit": {strconv.Itoa(limit)}, "offset": {strconv.Itoa(offset)}}
	if err := c.do(ctx, http.MethodGet, "/exams", q, nil, &out); err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	return &out, nil
}

// do sends one request and unwraps the response envelope into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var env response.Envelope
	decodeErr := json.NewDecoder(res.Body).Decode(&env)

	if res.StatusCode/100 != 2 {
		apiErr := &APIError{Status: res.StatusCode}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// WithToken returns a copy of c that authenticates as token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Guest asks the authority for an anonymous identity.
func (c *Client) Guest(ctx context.Context) (*model.GuestTokenResponse, error) {
	var out model.GuestTokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/guest", nil, struct{}{}, &out); err != nil {
		return nil, fmt.Errorf("guest token: %w", err)
	}
	if out.Token == "" {
		return nil, fmt.Errorf("guest token: authority returned no token")
	}
	return &out, nil
}
