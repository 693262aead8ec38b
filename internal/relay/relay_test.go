package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rekindle/internal/provider"
	"rekindle/internal/resume"
	"rekindle/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go.opencensus.io (transitive via google.golang.org/genai) starts a
		// background worker goroutine at package init that never exits.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// fakeStreamer scripts the provider adapter.
type fakeStreamer struct {
	fragments []string
	err       error

	calls      int
	gotSystem  string
	gotHistory []resume.ChatTurn
	gotMessage string
}

func (f *fakeStreamer) StreamReply(_ context.Context, system string, history []resume.ChatTurn, message string) (<-chan string, <-chan error) {
	f.calls++
	f.gotSystem = system
	f.gotHistory = history
	f.gotMessage = message

	fragments := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(fragments)
		defer close(errs)
		for _, frag := range f.fragments {
			fragments <- frag
		}
		if f.err != nil {
			errs <- f.err
		}
	}()
	return fragments, errs
}

func (f *fakeStreamer) Close() error { return nil }

func newTestServer(t *testing.T, streamer provider.Streamer) (*Server, *store.LocalStore) {
	t.Helper()
	st, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewServer(st, streamer, nil), st
}

func seedConversation(t *testing.T, st *store.LocalStore) {
	t.Helper()
	require.NoError(t, st.PutConversation(context.Background(), &store.Conversation{
		ID:    "c1",
		Title: "Trip planning",
		Turns: []store.StoredTurn{
			{Role: "user", Content: "where to go?"},
			{Role: "model", Content: "Lisbon"},
		},
	}))
}

func postChat(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// frames splits an SSE body into its data payloads.
func frames(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), "frame %q", chunk)
		out = append(out, strings.TrimPrefix(chunk, "data: "))
	}
	return out
}

func errorCode(t *testing.T, body string) string {
	t.Helper()
	var parsed struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &parsed))
	return parsed.Error.Code
}

func TestChatStreamsFragmentsThenDone(t *testing.T) {
	fake := &fakeStreamer{fragments: []string{"Hel", "lo"}}
	srv, st := newTestServer(t, fake)
	seedConversation(t, st)

	rec := postChat(t, srv, `{
		"conversationId": "c1",
		"userMessage": "continue please",
		"chatHistory": [{"role":"user","content":"earlier"}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	got := frames(t, rec.Body.String())
	require.Equal(t, []string{`{"text":"Hel"}`, `{"text":"lo"}`, "[DONE]"}, got)

	// Exactly one terminal frame, and it is last.
	terminals := 0
	for i, f := range got {
		if f == "[DONE]" || strings.HasPrefix(f, `{"error"`) {
			terminals++
			assert.Equal(t, len(got)-1, i, "terminal frame must be last")
		}
	}
	assert.Equal(t, 1, terminals)

	// The adapter saw the assembled instruction, the history, and the new
	// message as separate inputs.
	assert.Contains(t, fake.gotSystem, "## Previous content")
	assert.Contains(t, fake.gotSystem, "User: where to go?")
	assert.Contains(t, fake.gotSystem, "Trip planning")
	require.Len(t, fake.gotHistory, 1)
	assert.Equal(t, "continue please", fake.gotMessage)
}

func TestChatMidStreamErrorEmitsTerminalErrorFrame(t *testing.T) {
	fake := &fakeStreamer{
		fragments: []string{"Par"},
		err:       &provider.Error{Kind: provider.KindQuotaExceeded, Message: "provider rate or resource limit exceeded; try again later"},
	}
	srv, st := newTestServer(t, fake)
	seedConversation(t, st)

	rec := postChat(t, srv, `{"conversationId":"c1","userMessage":"go","chatHistory":[]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	got := frames(t, rec.Body.String())
	require.Len(t, got, 2)
	assert.Equal(t, `{"text":"Par"}`, got[0])

	var errFrame struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(got[1]), &errFrame))
	assert.Contains(t, errFrame.Error, "limit exceeded")
}

func TestChatPreStreamProviderErrorIsPlainResponse(t *testing.T) {
	cases := []struct {
		kind       provider.Kind
		wantStatus int
	}{
		{provider.KindUnconfigured, http.StatusServiceUnavailable},
		{provider.KindPermissionDenied, http.StatusBadGateway},
		{provider.KindQuotaExceeded, http.StatusTooManyRequests},
		{provider.KindModelUnavailable, http.StatusBadGateway},
	}
	for _, tc := range cases {
		fake := &fakeStreamer{err: &provider.Error{Kind: tc.kind, Message: "m"}}
		srv, st := newTestServer(t, fake)
		seedConversation(t, st)

		rec := postChat(t, srv, `{"conversationId":"c1","userMessage":"go","chatHistory":[]}`)

		assert.Equal(t, tc.wantStatus, rec.Code, tc.kind.String())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), tc.kind.String())
		assert.Equal(t, tc.kind.String(), errorCode(t, rec.Body.String()))
	}
}

func TestChatZeroFragmentSuccessStillTerminates(t *testing.T) {
	srv, st := newTestServer(t, &fakeStreamer{})
	seedConversation(t, st)

	rec := postChat(t, srv, `{"conversationId":"c1","userMessage":"go","chatHistory":[]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"[DONE]"}, frames(t, rec.Body.String()))
}

func TestChatSubjectNotFound(t *testing.T) {
	fake := &fakeStreamer{}
	srv, _ := newTestServer(t, fake)

	rec := postChat(t, srv, `{"conversationId":"c1","userMessage":"go","chatHistory":[]}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, errorCode(t, rec.Body.String()))
	assert.Zero(t, fake.calls, "provider must not be called for a missing subject")
}

func TestChatCorruptSubjectIsDataIntegrity(t *testing.T) {
	srv, st := newTestServer(t, &fakeStreamer{})
	require.NoError(t, st.PutConversation(context.Background(), &store.Conversation{
		ID:    "c1",
		Turns: []store.StoredTurn{{Role: "narrator", Content: "x"}},
	}))

	rec := postChat(t, srv, `{"conversationId":"c1","userMessage":"go","chatHistory":[]}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, codeDataIntegrity, errorCode(t, rec.Body.String()))
}

func TestChatValidation(t *testing.T) {
	long := strings.Repeat("x", maxMessageLen+1)
	manyTurns := strings.Repeat(`{"role":"user","content":"h"},`, maxHistoryTurns)

	cases := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{`, codeInvalidRequest},
		{"both subjects", `{"conversationId":"a","spaceId":"b","userMessage":"m","chatHistory":[]}`, codeValidationError},
		{"no subject", `{"userMessage":"m","chatHistory":[]}`, codeValidationError},
		{"empty message", `{"conversationId":"a","userMessage":"","chatHistory":[]}`, codeValidationError},
		{"oversize message", `{"conversationId":"a","userMessage":"` + long + `","chatHistory":[]}`, codeValidationError},
		{"too many turns", `{"conversationId":"a","userMessage":"m","chatHistory":[` + manyTurns + `{"role":"user","content":"h"}]}`, codeValidationError},
		{"system role in history", `{"conversationId":"a","userMessage":"m","chatHistory":[{"role":"system","content":"h"}]}`, codeValidationError},
		{"unknown role in history", `{"conversationId":"a","userMessage":"m","chatHistory":[{"role":"robot","content":"h"}]}`, codeInvalidRequest},
		{"path-breaking id", `{"conversationId":"../../etc","userMessage":"m","chatHistory":[]}`, codeInvalidIDFormat},
		{"id with space", `{"conversationId":"a b","userMessage":"m","chatHistory":[]}`, codeInvalidIDFormat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeStreamer{}
			srv, _ := newTestServer(t, fake)

			rec := postChat(t, srv, tc.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec.Body.String()))
			assert.Zero(t, fake.calls, "rejected request must not reach the provider")
		})
	}
}

func TestChatSystemRoleRejectedBeforeIO(t *testing.T) {
	// "system" parses as a stored role but is not a wire role; the decoder
	// accepts it, validation rejects it.
	var req chatRequest
	require.NoError(t, json.Unmarshal([]byte(
		`{"conversationId":"a","userMessage":"m","chatHistory":[{"role":"system","content":"h"}]}`), &req))
	assert.Error(t, req.validate())
}

func TestInsightsSaved(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStreamer{})

	req := httptest.NewRequest(http.MethodPost, "/insights", strings.NewReader(
		`{"conversationId":"c1","question":"why?","answer":"because"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp insightResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.False(t, resp.CreatedAt.IsZero())
}

func TestInsightsValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		code string
	}{
		{"both subjects", `{"conversationId":"a","spaceId":"b","question":"q","answer":"a"}`, codeValidationError},
		{"no subject", `{"question":"q","answer":"a"}`, codeValidationError},
		{"empty question", `{"conversationId":"a","question":"","answer":"a"}`, codeValidationError},
		{"empty answer", `{"conversationId":"a","question":"q","answer":""}`, codeValidationError},
		{"bad id", `{"conversationId":"a/b","question":"q","answer":"a"}`, codeInvalidIDFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeStreamer{})

			req := httptest.NewRequest(http.MethodPost, "/insights", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec.Body.String()))
		})
	}
}

func TestChatSpaceSubject(t *testing.T) {
	fake := &fakeStreamer{fragments: []string{"ok"}}
	srv, st := newTestServer(t, fake)
	ctx := context.Background()
	require.NoError(t, st.PutConversation(ctx, &store.Conversation{
		ID: "m1", Title: "One", Turns: []store.StoredTurn{{Role: "user", Content: "a"}},
	}))
	require.NoError(t, st.PutSpace(ctx, &store.Space{
		ID: "s1", Title: "Theme", ConversationIDs: []string{"m1", "gone"},
	}))

	rec := postChat(t, srv, `{"spaceId":"s1","userMessage":"go","chatHistory":[]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, fake.gotSystem, "### Conversation 1: One")
	assert.Contains(t, fake.gotSystem, "Theme")
}
