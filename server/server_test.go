// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/autollama/autollama/ai"
	"github.com/autollama/autollama/ai/mock"
	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/extract"
	"github.com/autollama/autollama/ingestion"
	"github.com/autollama/autollama/progress"
	"github.com/autollama/autollama/session"
	"github.com/autollama/autollama/storage"
	"github.com/autollama/autollama/storage/badger"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv      *httptest.Server
	pipeline *ingestion.Pipeline
	embedder *mock.MockEmbedder
	analyzer *mock.MockAnalyzer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sessionRepo, chunkRepo, vectorIndex, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	coord, err := storage.NewCoordinator(sessionRepo, chunkRepo, vectorIndex)
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder()
	analyzer := mock.NewMockAnalyzer()
	cfg := ingestion.DefaultConfig()
	cfg.ChunkSize = 50
	cfg.ChunkOverlap = 0
	cfg.RetryBaseDelay = time.Millisecond

	p, err := ingestion.NewPipeline(session.NewManager(coord), coord,
		mock.NewMockProviderWithServices(embedder, analyzer), extract.DefaultRegistry(),
		ingestion.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	srv := httptest.NewServer(New(p).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, pipeline: p, embedder: embedder, analyzer: analyzer}
}

func (f *fixture) upload(t *testing.T, name, text string) (*http.Response, Accepted) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post(f.srv.URL+"/sessions", w.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp, decode[Accepted](t, resp)
}

func (f *fixture) post(t *testing.T, path, contentType, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, contentType, strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// events reads the session's stream until the server closes it.
func (f *fixture) events(t *testing.T, sessionID string) []progress.Event {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/sessions/" + sessionID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var out []progress.Event
	for {
		var ev progress.Event
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			return out
		}
		out = append(out, ev)
	}
}

func TestServer_UploadAndStream(t *testing.T) {
	f := newFixture(t)

	resp, accepted := f.upload(t, "notes.txt", strings.Repeat("lorem ipsum ", 20))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, accepted.SessionID)
	assert.Equal(t, "/sessions/"+accepted.SessionID+"/events", accepted.Events)

	events := f.events(t, accepted.SessionID)
	require.NotEmpty(t, events)
	assert.Equal(t, progress.StepStart, events[0].Step)
	assert.Equal(t, progress.StepComplete, events[len(events)-1].Step)
	for _, ev := range events {
		assert.Equal(t, accepted.SessionID, ev.SessionID)
	}

	resp = f.get(t, "/sessions/"+accepted.SessionID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[session.Summary](t, resp)
	assert.Equal(t, core.SessionStatusCompleted, summary.Status)
	assert.Equal(t, "notes.txt", summary.Filename)
	assert.Equal(t, summary.TotalChunks, summary.CompletedChunks)

	// A second subscriber replays the finished run.
	again := f.events(t, accepted.SessionID)
	assert.Equal(t, len(events), len(again))
}

func TestServer_IngestURL(t *testing.T) {
	f := newFixture(t)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("remote document body"))
	}))
	defer origin.Close()

	resp := f.post(t, "/sessions", "application/json", `{"url":"`+origin.URL+`/doc.txt"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	accepted := decode[Accepted](t, resp)

	events := f.events(t, accepted.SessionID)
	steps := make([]progress.Step, len(events))
	for i, ev := range events {
		steps[i] = ev.Step
	}
	assert.Contains(t, steps, progress.StepFetch)
	assert.Equal(t, progress.StepComplete, steps[len(steps)-1])
}

func TestServer_BadRequests(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/sessions", "application/json", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/sessions", "application/json", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.get(t, "/sessions/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Contains(t, body["error"], "not found")

	resp = f.post(t, "/sessions/missing/cancel", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = f.get(t, "/sessions/missing/events")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_ResumableAndResume(t *testing.T) {
	f := newFixture(t)
	f.embedder.WithEmbedTextFunc(func(context.Context, string) ([]float32, error) {
		return nil, ai.ErrPermanent
	})

	_, accepted := f.upload(t, "flaky.txt", "short document")
	events := f.events(t, accepted.SessionID)
	last := events[len(events)-1]
	require.Equal(t, progress.StepError, last.Step)
	require.NotNil(t, last.Resumable)
	assert.True(t, *last.Resumable)

	resp := f.get(t, "/sessions/resumable")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[[]session.Summary](t, resp)
	require.Len(t, listed, 1)
	assert.Equal(t, accepted.SessionID, listed[0].SessionID)
	assert.Equal(t, core.SessionStatusFailed, listed[0].Status)

	f.embedder.Reset()
	resp = f.post(t, "/sessions/"+accepted.SessionID+"/resume", "", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	events = f.events(t, accepted.SessionID)
	assert.Equal(t, progress.StepComplete, events[len(events)-1].Step)

	resp = f.get(t, "/sessions/resumable")
	assert.Empty(t, decode[[]session.Summary](t, resp))
}

func TestServer_SnapshotForUnrelayedSession(t *testing.T) {
	f := newFixture(t)

	run, err := f.pipeline.Ingest(context.Background(), ingestion.Source{Filename: "direct.txt", Data: []byte("direct")})
	require.NoError(t, err)
	for range run.Events() {
	}
	_, err = run.Wait(context.Background())
	require.NoError(t, err)

	events := f.events(t, run.SessionID)
	require.Len(t, events, 1)
	assert.Equal(t, progress.StepSession, events[0].Step)
	assert.Contains(t, events[0].Message, "completed")
	assert.Equal(t, &progress.Progress{Current: 1, Total: 1}, events[0].Progress)
}

func TestServer_CancelAndPurge(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{}, 16)
	release := make(chan struct{})
	f.analyzer.WithAnalyzeChunkFunc(func(context.Context, string, *core.DocumentContext) (*core.AnalysisResult, error) {
		started <- struct{}{}
		<-release
		return &core.AnalysisResult{Sentiment: "neutral"}, nil
	})

	// More chunks than the batch size, so some are never dispatched.
	_, accepted := f.upload(t, "slow.txt", strings.Repeat("word ", 80))
	id := accepted.SessionID
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("no chunk was dispatched")
	}

	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+"/sessions/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/sessions/"+id+"/cancel", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	close(release)

	events := f.events(t, id)
	last := events[len(events)-1]
	assert.Equal(t, progress.StepError, last.Step)

	resp = f.get(t, "/sessions/"+id)
	assert.Equal(t, core.SessionStatusCancelled, decode[session.Summary](t, resp).Status)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = f.get(t, "/sessions/"+id)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRelay_SlowSubscriberDropped(t *testing.T) {
	rl := newRelay()
	_, slow := rl.subscribe(1)
	_, fast := rl.subscribe(8)

	rl.publish(progress.NewEvent(progress.StepStart, "one"))
	rl.publish(progress.NewEvent(progress.StepChunk, "two"))

	// The slow subscriber's buffer filled on the first event.
	ev, ok := <-slow.events
	require.True(t, ok)
	assert.Equal(t, progress.StepStart, ev.Step)
	_, ok = <-slow.events
	assert.False(t, ok)
	code, reason := rl.closeCode(slow)
	assert.Equal(t, websocket.CloseTryAgainLater, code)
	assert.NotEmpty(t, reason)

	rl.finish()
	var got []progress.Step
	for ev := range fast.events {
		got = append(got, ev.Step)
	}
	assert.Equal(t, []progress.Step{progress.StepStart, progress.StepChunk}, got)
	code, _ = rl.closeCode(fast)
	assert.Equal(t, websocket.CloseNormalClosure, code)

	past, late := rl.subscribe(1)
	assert.Len(t, past, 2)
	assert.Nil(t, late)
}
