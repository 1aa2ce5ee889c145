// Package restapi binds the coordination backend's REST surface to the
// collaborator contracts the conversation engine consumes.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/user/lifeline/internal/types"
)

// Wire values for the two conversation roles.
const (
	wireCallerAgent = "victim_agent"
	wireHelperAgent = "helper_agent"
)

func wireRole(r types.Role) string {
	if r == types.RoleHelper {
		return wireHelperAgent
	}
	return wireCallerAgent
}

// Client talks to the coordination backend. One client serves all five
// collaborator contracts; the role decides which guidance endpoint is
// polled.
type Client struct {
	baseURL string
	role    types.Role
	httpc   *http.Client
	retry   *RetryPolicy
}

// New creates a Client for the given backend base URL and conversation
// role.
func New(baseURL string, role types.Role) *Client {
	return &Client{
		baseURL: baseURL,
		role:    role,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		retry:   DefaultRetryPolicy(),
	}
}

// Interface compliance checks.
var _ types.GuidanceProvider = (*Client)(nil)
var _ types.CaseStore = (*Client)(nil)
var _ types.AssignmentStore = (*Client)(nil)
var _ types.LocationStore = (*Client)(nil)
var _ types.MessageBus = (*Client)(nil)

// getJSON fetches path and decodes the 200 response into out, retrying
// transient failures within the policy's budget.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.retry.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return fmt.Errorf("get %s: %w", path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, string(body))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		return nil
	})
}

// postJSON posts in to path and decodes the response into out. Not retried;
// posts are not idempotent.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

type guideResponse struct {
	Status    string `json:"status"`
	GuideText string `json:"guide_text"`
}

// FetchGuidance polls the role-specific guide endpoint. A "processing"
// status maps to a not-ready Guidance, not an error.
func (c *Client) FetchGuidance(ctx context.Context, ref int64) (types.Guidance, error) {
	path := fmt.Sprintf("/api/agent/caller-guide/%d", ref)
	if c.role == types.RoleHelper {
		path = fmt.Sprintf("/api/agent/helper-guide/%d", ref)
	}
	var resp guideResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return types.Guidance{}, err
	}
	if resp.Status == "processing" || resp.GuideText == "" {
		return types.Guidance{Ready: false}, nil
	}
	return types.Guidance{Text: resp.GuideText, Ready: true}, nil
}

type locationPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type caseResponse struct {
	ID                    int64         `json:"id"`
	Location              locationPoint `json:"location"`
	Description           string        `json:"description"`
	RawProblemDescription string        `json:"raw_problem_description"`
	PeopleCount           int           `json:"people_count"`
	VulnerabilityFactors  []string      `json:"vulnerability_factors"`
	Urgency               string        `json:"urgency"`
	DangerLevel           string        `json:"danger_level"`
	Status                string        `json:"status"`
	CreatedAt             time.Time     `json:"created_at"`
}

func (r caseResponse) snapshot() *types.CaseSnapshot {
	description := r.Description
	if description == "" {
		description = r.RawProblemDescription
	}
	return &types.CaseSnapshot{
		ID:                   types.CaseID(r.ID),
		Status:               r.Status,
		Urgency:              r.Urgency,
		DangerLevel:          r.DangerLevel,
		PeopleCount:          r.PeopleCount,
		VulnerabilityFactors: r.VulnerabilityFactors,
		Description:          description,
		Location:             types.Coordinate{Lat: r.Location.Latitude, Lng: r.Location.Longitude},
		CreatedAt:            r.CreatedAt,
	}
}

// FetchCase returns the backend's snapshot of a case.
func (c *Client) FetchCase(ctx context.Context, id types.CaseID) (*types.CaseSnapshot, error) {
	var resp caseResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/cases/%d", id), &resp); err != nil {
		return nil, err
	}
	return resp.snapshot(), nil
}

type assignmentResponse struct {
	ID           int64      `json:"id"`
	CaseID       int64      `json:"case_id"`
	HelperUserID int64      `json:"helper_user_id"`
	AssignedAt   time.Time  `json:"assigned_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	Outcome      string     `json:"outcome"`
}

func (r assignmentResponse) assignment() *types.Assignment {
	return &types.Assignment{
		ID:           types.AssignmentID(r.ID),
		CaseID:       types.CaseID(r.CaseID),
		HelperUserID: types.UserID(r.HelperUserID),
		AssignedAt:   r.AssignedAt,
		CompletedAt:  r.CompletedAt,
		Outcome:      r.Outcome,
	}
}

// FetchAssignmentsForCase lists all assignments, active or completed, for a
// case.
func (c *Client) FetchAssignmentsForCase(ctx context.Context, id types.CaseID) ([]*types.Assignment, error) {
	var resp []assignmentResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/cases/%d/assignments", id), &resp); err != nil {
		return nil, err
	}
	out := make([]*types.Assignment, 0, len(resp))
	for _, r := range resp {
		out = append(out, r.assignment())
	}
	return out, nil
}

// FetchAssignment returns a single assignment by ID.
func (c *Client) FetchAssignment(ctx context.Context, id types.AssignmentID) (*types.Assignment, error) {
	var resp assignmentResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/assignments/%d", id), &resp); err != nil {
		return nil, err
	}
	return resp.assignment(), nil
}

type locationHistoryResponse struct {
	Locations []locationPoint `json:"locations"`
}

// FetchLatestLocation returns the user's last reported coordinate, or nil if
// none has been reported yet.
func (c *Client) FetchLatestLocation(ctx context.Context, id types.UserID) (*types.Coordinate, error) {
	var resp locationHistoryResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/users/%d/location-history?limit=1", id), &resp); err != nil {
		return nil, err
	}
	if len(resp.Locations) == 0 {
		return nil, nil
	}
	latest := resp.Locations[0]
	return &types.Coordinate{Lat: latest.Latitude, Lng: latest.Longitude}, nil
}

type wireOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type wireMessage struct {
	MessageID    string       `json:"message_id"`
	MessageText  string       `json:"message_text"`
	CreatedAt    time.Time    `json:"created_at"`
	QuestionType string       `json:"question_type"`
	Options      []wireOption `json:"options"`
}

type unreadResponse struct {
	UnreadMessages []wireMessage `json:"unread_messages"`
}

// FetchUnread returns messages addressed to the given role that have not
// been delivered yet. Messages carrying options surface as questions; peer
// option values mirror their labels since no tree node backs them.
func (c *Client) FetchUnread(ctx context.Context, id types.AssignmentID, recipient types.Role) ([]types.PeerMessage, error) {
	q := url.Values{}
	q.Set("assignment_id", fmt.Sprintf("%d", id))
	q.Set("recipient", wireRole(recipient))

	var resp unreadResponse
	if err := c.getJSON(ctx, "/api/agent-messages/unread?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]types.PeerMessage, 0, len(resp.UnreadMessages))
	for _, m := range resp.UnreadMessages {
		msg := types.PeerMessage{
			ID:        types.MessageID(m.MessageID),
			Text:      m.MessageText,
			Timestamp: m.CreatedAt,
		}
		if len(m.Options) > 0 {
			arity := types.AritySingle
			if m.QuestionType == string(types.ArityMultiple) {
				arity = types.ArityMultiple
			}
			question := &types.Question{Arity: arity}
			for _, opt := range m.Options {
				question.Options = append(question.Options, types.Option{
					ID:    opt.ID,
					Label: opt.Label,
					Value: opt.Label,
				})
			}
			msg.Question = question
		}
		out = append(out, msg)
	}
	return out, nil
}

type sendRequestBody struct {
	AssignmentID int64  `json:"assignment_id"`
	CaseID       int64  `json:"case_id"`
	Sender       string `json:"sender"`
	MessageType  string `json:"message_type"`
	MessageText  string `json:"message_text"`
}

type sendResponseBody struct {
	MessageID string `json:"message_id"`
}

// Send forwards an outbound peer message. Failures are returned to the
// caller; the optimistic timeline entry stays either way and the user may
// resend.
func (c *Client) Send(ctx context.Context, req types.SendRequest) (types.SendAck, error) {
	body := sendRequestBody{
		AssignmentID: int64(req.AssignmentID),
		CaseID:       int64(req.CaseID),
		Sender:       wireRole(req.Sender),
		MessageType:  req.Type,
		MessageText:  req.Text,
	}
	var resp sendResponseBody
	if err := c.postJSON(ctx, "/api/agent-messages", body, &resp); err != nil {
		return types.SendAck{}, err
	}
	return types.SendAck{MessageID: types.MessageID(resp.MessageID)}, nil
}
