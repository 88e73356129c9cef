package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/colmb/taskchat/internal/agent"
	"github.com/colmb/taskchat/internal/auth"
	"github.com/colmb/taskchat/internal/llm"
	"github.com/colmb/taskchat/internal/store"
	"github.com/colmb/taskchat/internal/tools"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

// scriptedClient returns canned model responses in order; the last one
// repeats if the loop asks again.
type scriptedClient struct {
	responses []*llm.ChatResponse
	err       error
	calls     int
}

func (c *scriptedClient) Chat(ctx context.Context, messages []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	i := c.calls - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return c.responses[i], nil
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		FinishReason: "stop",
	}
}

func toolResponse(callID, name, args string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:       callID,
				Type:     "function",
				Function: llm.FunctionCall{Name: name, Arguments: args},
			}},
		},
		FinishReason: "tool_calls",
	}
}

type testEnv struct {
	srv    *httptest.Server
	store  *store.Store
	client *http.Client
}

func newTestEnv(t *testing.T, model llm.Client) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.DiscardHandler)
	if model == nil {
		model = &scriptedClient{responses: []*llm.ChatResponse{textResponse("ok")}}
	}
	registry := tools.NewRegistry(st, logger)
	loop := agent.New(model, registry, 5, logger)
	tokens := auth.NewTokens(testJWTSecret, time.Hour)

	server := NewServer("127.0.0.1", 0, st, tokens, loop, 50, logger)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: st, client: srv.Client()}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			// Array responses land under a synthetic key.
			var arr []any
			if err := json.Unmarshal(data, &arr); err != nil {
				t.Fatalf("response not JSON: %v\n%s", err, data)
			}
			decoded = map[string]any{"_list": arr}
		}
	}
	return resp, decoded
}

// register creates a user and returns a bearer token for it.
func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": "password123",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status = %d", email, resp.StatusCode)
	}

	resp, body := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "password123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status = %d", email, resp.StatusCode)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("no access_token in login response: %v", body)
	}
	return token
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, body := e.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEnv(t, nil)

	tests := []struct {
		name     string
		email    string
		password string
		want     int
	}{
		{"valid", "alice@example.com", "password123", http.StatusCreated},
		{"duplicate email", "alice@example.com", "password123", http.StatusConflict},
		{"bad email", "not-an-email", "password123", http.StatusBadRequest},
		{"empty email", "", "password123", http.StatusBadRequest},
		{"short password", "bob@example.com", "short", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
				"email": tt.email, "password": tt.password,
			})
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (%v)", resp.StatusCode, tt.want, body)
			}
			if tt.want == http.StatusCreated && body["password_hash"] != nil {
				t.Error("password hash leaked in response")
			}
		})
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	e := newTestEnv(t, nil)
	e.register(t, "alice@example.com")

	tests := []struct {
		name  string
		email string
		pass  string
	}{
		{"wrong password", "alice@example.com", "wrong-password"},
		{"unknown email", "nobody@example.com", "password123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
				"email": tt.email, "password": tt.pass,
			})
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
			if body["error"] != "Invalid email or password" {
				t.Errorf("error = %v", body["error"])
			}
		})
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	e := newTestEnv(t, nil)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/tasks"},
		{http.MethodPost, "/api/chat"},
		{http.MethodGet, "/api/conversations/recent"},
	}
	for _, p := range paths {
		resp, _ := e.do(t, p.method, p.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", p.method, p.path, resp.StatusCode)
		}
	}
}

func TestTaskCRUD(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.register(t, "alice@example.com")

	resp, created := e.do(t, http.MethodPost, "/api/tasks", token, map[string]string{"title": "buy milk"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d", resp.StatusCode)
	}
	id, _ := created["id"].(string)
	if id == "" || created["title"] != "buy milk" {
		t.Fatalf("created = %v", created)
	}

	resp, body := e.do(t, http.MethodGet, "/api/tasks", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status = %d", resp.StatusCode)
	}
	if list, _ := body["_list"].([]any); len(list) != 1 {
		t.Errorf("list = %v", body)
	}

	resp, body = e.do(t, http.MethodPatch, "/api/tasks/"+id, token, map[string]any{"is_completed": true})
	if resp.StatusCode != http.StatusOK || body["is_completed"] != true {
		t.Errorf("patch: status = %d, body = %v", resp.StatusCode, body)
	}

	resp, body = e.do(t, http.MethodGet, "/api/tasks?status=pending", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("filtered list: status = %d", resp.StatusCode)
	}
	if list, _ := body["_list"].([]any); len(list) != 0 {
		t.Errorf("pending list = %v", body)
	}

	resp, _ = e.do(t, http.MethodDelete, "/api/tasks/"+id, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete: status = %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodGet, "/api/tasks/"+id, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: status = %d", resp.StatusCode)
	}
}

func TestTaskValidationAndOwnership(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.register(t, "alice@example.com")
	bob := e.register(t, "bob@example.com")

	resp, _ := e.do(t, http.MethodPost, "/api/tasks", alice, map[string]string{"title": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank title: status = %d", resp.StatusCode)
	}

	// Title length counts characters, not bytes: 500 multibyte runes is
	// the maximum allowed, 501 is not.
	resp, _ = e.do(t, http.MethodPost, "/api/tasks", alice, map[string]string{"title": strings.Repeat("日", 500)})
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("500-rune title: status = %d, want 201", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodPost, "/api/tasks", alice, map[string]string{"title": strings.Repeat("日", 501)})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("501-rune title: status = %d, want 400", resp.StatusCode)
	}

	_, created := e.do(t, http.MethodPost, "/api/tasks", alice, map[string]string{"title": "private"})
	id, _ := created["id"].(string)

	// Bob cannot see, change, or delete Alice's task.
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/tasks/" + id},
		{http.MethodPatch, "/api/tasks/" + id},
		{http.MethodDelete, "/api/tasks/" + id},
	} {
		var body any
		if tc.method == http.MethodPatch {
			body = map[string]any{"is_completed": true}
		}
		resp, _ := e.do(t, tc.method, tc.path, bob, body)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s as other user: status = %d, want 404", tc.method, resp.StatusCode)
		}
	}
}

func TestChatCreatesConversationAndRunsTools(t *testing.T) {
	model := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("call_1", "add_task", `{"title":"buy milk"}`),
		textResponse("Added buy milk to your list!"),
	}}
	e := newTestEnv(t, model)
	token := e.register(t, "alice@example.com")

	resp, body := e.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "please add buy milk"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: status = %d (%v)", resp.StatusCode, body)
	}
	if body["response"] != "Added buy milk to your list!" {
		t.Errorf("response = %v", body["response"])
	}
	convID, _ := body["conversation_id"].(string)
	if convID == "" {
		t.Fatal("no conversation_id")
	}

	// The tool really ran.
	resp, tasksBody := e.do(t, http.MethodGet, "/api/tasks", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status = %d", resp.StatusCode)
	}
	if list, _ := tasksBody["_list"].([]any); len(list) != 1 {
		t.Errorf("tasks = %v", tasksBody)
	}

	// The exchange was persisted: user, tool, assistant.
	resp, recent := e.do(t, http.MethodGet, "/api/conversations/recent", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recent: status = %d", resp.StatusCode)
	}
	conv, _ := recent["conversation"].(map[string]any)
	if conv["id"] != convID || conv["title"] != "please add buy milk" {
		t.Errorf("conversation = %v", conv)
	}
	msgs, _ := recent["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	roles := make([]string, 0, 3)
	for _, m := range msgs {
		mm := m.(map[string]any)
		roles = append(roles, mm["role"].(string))
	}
	if roles[0] != "user" || roles[1] != "tool" || roles[2] != "assistant" {
		t.Errorf("roles = %v", roles)
	}
}

func TestChatTruncatesLongTitle(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.register(t, "alice@example.com")

	long := ""
	for range 10 {
		long += "0123456789"
	}
	resp, _ := e.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": long})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: status = %d", resp.StatusCode)
	}

	_, recent := e.do(t, http.MethodGet, "/api/conversations/recent", token, nil)
	conv, _ := recent["conversation"].(map[string]any)
	title, _ := conv["title"].(string)
	if len(title) != 50 {
		t.Errorf("title length = %d, want 50", len(title))
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.register(t, "alice@example.com")

	for _, msg := range []string{"", "   "} {
		resp, body := e.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": msg})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("message %q: status = %d (%v)", msg, resp.StatusCode, body)
		}
	}
}

func TestChatRejectsForeignConversation(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.register(t, "alice@example.com")
	bob := e.register(t, "bob@example.com")

	_, body := e.do(t, http.MethodPost, "/api/chat", alice, map[string]string{"message": "hello"})
	convID, _ := body["conversation_id"].(string)

	resp, _ := e.do(t, http.MethodPost, "/api/chat", bob, map[string]string{
		"message": "hi", "conversation_id": convID,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChatContinuesConversation(t *testing.T) {
	model := &scriptedClient{responses: []*llm.ChatResponse{textResponse("first"), textResponse("second")}}
	e := newTestEnv(t, model)
	token := e.register(t, "alice@example.com")

	_, body := e.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "one"})
	convID, _ := body["conversation_id"].(string)

	resp, body := e.do(t, http.MethodPost, "/api/chat", token, map[string]string{
		"message": "two", "conversation_id": convID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second chat: status = %d", resp.StatusCode)
	}
	if body["conversation_id"] != convID {
		t.Errorf("conversation_id = %v, want %s", body["conversation_id"], convID)
	}

	_, recent := e.do(t, http.MethodGet, "/api/conversations/recent", token, nil)
	msgs, _ := recent["messages"].([]any)
	if len(msgs) != 4 {
		t.Errorf("messages = %d, want 4", len(msgs))
	}
}

func TestChatModelFailureIs503AndPersistsNothing(t *testing.T) {
	e := newTestEnv(t, &scriptedClient{err: context.DeadlineExceeded})
	token := e.register(t, "alice@example.com")

	resp, body := e.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "hello"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if body["error"] != "Service temporarily unavailable, please try again." {
		t.Errorf("error = %v", body["error"])
	}

	resp, _ = e.do(t, http.MethodGet, "/api/conversations/recent", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("recent after failure: status = %d, want 204", resp.StatusCode)
	}
}

func TestRecentConversationEmpty(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.register(t, "alice@example.com")

	resp, _ := e.do(t, http.MethodGet, "/api/conversations/recent", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, _ := e.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
