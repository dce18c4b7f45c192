package http

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/aretw0/calltrace/pkg/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data string
}

type fixture struct {
	srv     *httptest.Server
	threads *threads.Manager
	opened  chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opened := make(chan struct{}, 16)
	m := threads.NewManager(threads.WithHooks(domain.TraceHooks{
		OnBackfill: func(context.Context, *domain.SubscriptionEvent, int) { opened <- struct{}{} },
	}))
	t.Cleanup(m.Close)

	srv := httptest.NewServer(NewHandler(m))
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, threads: m, opened: opened}
}

func (f *fixture) waitOpened(t *testing.T) {
	t.Helper()
	select {
	case <-f.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("node was never opened")
	}
}

// stream connects to an SSE endpoint and parses its events.
func (f *fixture) stream(t *testing.T, path string) <-chan sseEvent {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sseEvent, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		var ev sseEvent
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				events <- ev
				ev = sseEvent{}
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	return events
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream ended")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseEvent{}
	}
}

func nextUpdate(t *testing.T, events <-chan sseEvent) domain.Update {
	t.Helper()
	ev := nextEvent(t, events)
	require.Empty(t, ev.name, "expected an update, got %q event", ev.name)

	var u domain.Update
	require.NoError(t, json.Unmarshal([]byte(ev.data), &u))
	return u
}

func (f *fixture) open(t *testing.T, thread, subscription, stack string) *http.Response {
	t.Helper()
	body := strings.NewReader(`{"stack":"` + stack + `"}`)
	resp, err := http.Post(f.srv.URL+"/threads/"+thread+"/subscriptions/"+subscription+"/open", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestSubscribeEvents_BackfillThenLive(t *testing.T) {
	f := newFixture(t)
	th, err := f.threads.Create("t1")
	require.NoError(t, err)

	th.Push(domain.Call("main"))

	events := f.stream(t, "/threads/t1/events?open=/")

	hello := nextEvent(t, events)
	assert.Equal(t, "subscribed", hello.name)
	var sub struct {
		ID string `json:"subscription_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(hello.data), &sub))
	require.NotEmpty(t, sub.ID)

	main := domain.NewCallStack(domain.Call("main"))
	assert.Equal(t, domain.Update{Seq: 1, Stack: main, State: domain.Running}, nextUpdate(t, events))
	f.waitOpened(t)

	resp := f.open(t, "t1", sub.ID, "call:main")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	f.waitOpened(t)

	th.Push(domain.Statement(0))
	th.Push(domain.Call("child"))
	th.PopSuccess()

	child := main.Push(domain.Statement(0)).Push(domain.Call("child"))
	assert.Equal(t, domain.Update{Seq: 2, Stack: child, State: domain.Running}, nextUpdate(t, events))
	assert.Equal(t, domain.Update{Seq: 3, Stack: child, State: domain.Successful}, nextUpdate(t, events))

	require.NoError(t, f.threads.Delete("t1"))
	ev := nextEvent(t, events)
	assert.Equal(t, "interrupted", ev.name)
	assert.Contains(t, ev.data, domain.ErrTracerClosed.Error())
}

func TestOpenNode_Errors(t *testing.T) {
	f := newFixture(t)
	_, err := f.threads.Create("t1")
	require.NoError(t, err)

	resp := f.open(t, "t1", "missing", "call:main")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.open(t, "t1", "missing", "bogus:1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(f.srv.URL+"/threads/t1/subscriptions/x/open", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRunState(t *testing.T) {
	f := newFixture(t)
	th, err := f.threads.Create("t1")
	require.NoError(t, err)

	th.Push(domain.Call("main"))
	th.Push(domain.Nested(0, domain.BlockPredicate))
	th.PopPredicateSuccess(false)

	tests := []struct {
		name   string
		path   string
		status int
		state  domain.RunState
	}{
		{"Running", "/threads/t1/state?stack=call:main", http.StatusOK, domain.Running},
		{"Predicate", "/threads/t1/state?stack=call:main/pred:0", http.StatusOK, domain.PredicateSuccessful(false)},
		{"NeverRan", "/threads/t1/state?stack=call:main/body:0/stmt:0/call:x", http.StatusOK, domain.NotRun},
		{"BadStack", "/threads/t1/state?stack=nope:1", http.StatusBadRequest, domain.RunState{}},
		{"UnknownThread", "/threads/t2/state?stack=call:main", http.StatusNotFound, domain.RunState{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(f.srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusOK {
				return
			}
			var entry domain.Entry
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
			assert.Equal(t, tt.state, entry.State)
		})
	}
}

func TestGetHistory(t *testing.T) {
	f := newFixture(t)
	th, err := f.threads.Create("t1")
	require.NoError(t, err)

	th.Push(domain.Call("main"))
	th.Push(domain.Statement(0))
	th.Push(domain.Call("a"))
	th.PopFailed()

	resp, err := http.Get(f.srv.URL + "/threads/t1/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap domain.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, uint64(3), snap.Seq)
	assert.Equal(t, "call:main/stmt:0", snap.Current.String())
	require.Len(t, snap.History, 1)
	assert.Equal(t, "call:main/stmt:0/call:a", snap.History[0].Stack.String())
	assert.Equal(t, domain.Failed, snap.History[0].State)
}

func TestSubscribeEvents_UnknownThread(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/threads/none/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListThreadsAndHealth(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"b", "a"} {
		_, err := f.threads.Create(id)
		require.NoError(t, err)
	}

	resp, err := http.Get(f.srv.URL + "/threads/")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"a", "b"}, body["threads"])

	health, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/threads/", nil)
	require.NoError(t, err)
	preflight, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	preflight.Body.Close()
	assert.Equal(t, http.StatusOK, preflight.StatusCode)
	assert.Equal(t, "*", preflight.Header.Get("Access-Control-Allow-Origin"))
}

func TestGetGraph(t *testing.T) {
	f := newFixture(t)
	th, err := f.threads.Create("t1")
	require.NoError(t, err)
	th.Push(domain.Call("main"))

	resp, err := http.Get(f.srv.URL + "/threads/t1/graph")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "graph TD\n"))
	assert.Contains(t, string(body), "class n1 running;")
}
