// internal/restapi/client_test.go
package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/lifeline/internal/types"
)

func TestFetchGuidanceProcessing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/agent/caller-guide/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
	}))
	defer srv.Close()

	c := New(srv.URL, types.RoleCaller)
	g, err := c.FetchGuidance(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if g.Ready {
		t.Error("processing status must map to not-ready guidance, not an error")
	}
}

func TestFetchGuidanceReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/agent/helper-guide/7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":     "ready",
			"guide_text": "Proceed to the staging area.",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, types.RoleHelper)
	g, err := c.FetchGuidance(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if !g.Ready || g.Text != "Proceed to the staging area." {
		t.Errorf("unexpected guidance %+v", g)
	}
}

func TestFetchCaseDescriptionFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":                      42,
			"location":                map[string]float64{"latitude": 37.77, "longitude": -122.42},
			"raw_problem_description": "water rising fast",
			"people_count":            3,
			"urgency":                 "high",
			"danger_level":            "severe",
			"status":                  "assigned",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, types.RoleCaller)
	snap, err := c.FetchCase(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Description != "water rising fast" {
		t.Errorf("description should fall back to raw_problem_description, got %q", snap.Description)
	}
	if snap.ID != 42 || snap.PeopleCount != 3 || snap.Location.Lat != 37.77 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestFetchAssignmentsForCase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/cases/42/assignments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "case_id": 42, "helper_user_id": 9, "completed_at": "2026-01-02T10:00:00Z"},
			{"id": 2, "case_id": 42, "helper_user_id": 11},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, types.RoleCaller)
	list, err := c.FetchAssignmentsForCase(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d assignments, want 2", len(list))
	}
	if list[0].Active() {
		t.Error("completed assignment must not be active")
	}
	if !list[1].Active() || list[1].HelperUserID != 11 {
		t.Errorf("unexpected second assignment %+v", list[1])
	}
}

func TestFetchLatestLocationEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("expected limit=1, got %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{"locations": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, types.RoleCaller)
	loc, err := c.FetchLatestLocation(context.Background(), 9)
	if err != nil {
		t.Fatal(err)
	}
	if loc != nil {
		t.Errorf("no history should yield a nil coordinate, got %+v", loc)
	}
}

func TestFetchUnreadMapsOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("assignment_id") != "7" || q.Get("recipient") != "victim_agent" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"unread_messages": []map[string]any{
				{
					"message_id":    "m1",
					"message_text":  "Can you move to the roof?",
					"created_at":    "2026-01-02T10:00:00Z",
					"question_type": "single",
					"options": []map[string]string{
						{"id": "yes", "label": "Yes"},
						{"id": "no", "label": "No"},
					},
				},
				{
					"message_id":   "m2",
					"message_text": "On my way.",
					"created_at":   "2026-01-02T10:01:00Z",
				},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, types.RoleCaller)
	msgs, err := c.FetchUnread(context.Background(), 7, types.RoleCaller)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	q := msgs[0].Question
	if q == nil || q.Arity != types.AritySingle || len(q.Options) != 2 {
		t.Fatalf("first message should carry a single-choice question, got %+v", q)
	}
	if q.Options[0].Value != q.Options[0].Label {
		t.Error("peer option values should mirror their labels")
	}
	if msgs[1].Question != nil {
		t.Error("plain text message must not carry a question")
	}
}

func TestSendBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/agent-messages" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"message_id": "m9"})
	}))
	defer srv.Close()

	c := New(srv.URL, types.RoleHelper)
	ack, err := c.Send(context.Background(), types.SendRequest{
		AssignmentID: 7,
		CaseID:       42,
		Sender:       types.RoleHelper,
		Type:         "answer",
		Text:         "ETA 10 minutes",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ack.MessageID != "m9" {
		t.Errorf("ack = %+v", ack)
	}
	if got["sender"] != "helper_agent" {
		t.Errorf("sender = %v, want helper_agent", got["sender"])
	}
	if got["message_text"] != "ETA 10 minutes" || got["message_type"] != "answer" {
		t.Errorf("unexpected body %v", got)
	}
}

func TestGetRetriesTransientFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "temporary failure", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready", "guide_text": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, types.RoleCaller)
	c.retry.InitialDelay = 0

	g, err := c.FetchGuidance(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !g.Ready || calls != 2 {
		t.Errorf("expected one retry then success, calls=%d guidance=%+v", calls, g)
	}
}

func TestGetDoesNotRetryNotFound(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "no such case", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, types.RoleCaller)
	c.retry.InitialDelay = 0

	if _, err := c.FetchCase(context.Background(), 999); err == nil {
		t.Fatal("expected error for 404")
	}
	if calls != 1 {
		t.Errorf("404 must not be retried, got %d calls", calls)
	}
}
