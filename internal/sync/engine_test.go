package sync

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usechronicle/chronicle/internal/client"
	"github.com/usechronicle/chronicle/internal/config"
	"github.com/usechronicle/chronicle/internal/history"
)

// backend is a fake chronicle server that counts what the engine
// actually calls.
type backend struct {
	mu           sync.Mutex
	needsUpload  bool
	uploadStatus int
	checkCalls   int
	uploadCalls  int
	processCalls int
	lastUpload   client.UploadRequest
}

func newBackend(t *testing.T, needsUpload bool) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{needsUpload: needsUpload, uploadStatus: http.StatusOK}
	ts := httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(ts.Close)
	return b, ts
}

func (b *backend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case r.URL.Path == "/api/agent-sessions/check-hash":
		b.checkCalls++
		json.NewEncoder(w).Encode(map[string]bool{
			"needsUpload": b.needsUpload,
		})
	case r.URL.Path == "/api/agent-sessions/upload-v2":
		b.uploadCalls++
		json.NewDecoder(r.Body).Decode(&b.lastUpload)
		w.WriteHeader(b.uploadStatus)
	case strings.HasPrefix(r.URL.Path, "/api/session-processing/process/"):
		b.processCalls++
	default:
		http.NotFound(w, r)
	}
}

func (b *backend) counts() (check, upload, process int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkCalls, b.uploadCalls, b.processCalls
}

func writeTranscript(t *testing.T) (path string, data []byte) {
	t.Helper()
	data = []byte(`{"type":"user","text":"fix the bug"}` + "\n" +
		`{"type":"assistant","text":"done"}` + "\n")
	path = filepath.Join(t.TempDir(), "sess-1.jsonl")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func testCred(serverURL string) config.Credential {
	return config.Credential{APIKey: "ck_test", ServerURL: serverURL}
}

func TestRunUploadsNewSession(t *testing.T) {
	b, ts := newBackend(t, true)
	path, data := writeTranscript(t)

	engine := NewEngine(testCred(ts.URL), nil, nil)
	engine.Run(context.Background(), Request{
		SessionID:      "sess-1",
		TranscriptPath: path,
		WorkingDir:     t.TempDir(),
		HookEvent:      "Stop",
	})

	check, upload, process := b.counts()
	assert.Equal(t, 1, check)
	assert.Equal(t, 1, upload)
	assert.Zero(t, process, "Stop must not trigger processing")

	assert.Equal(t, "claude-code", b.lastUpload.Provider)
	assert.Equal(t, "sess-1", b.lastUpload.SessionID)
	assert.Equal(t, "sess-1.jsonl", b.lastUpload.FileName)
	assert.Equal(t, HashBytes(data), b.lastUpload.FileHash)
	assert.Equal(t, "gzip", b.lastUpload.ContentEncoding)
	assert.Equal(t, int64(len(data)), b.lastUpload.FileSize)

	compressed, err := base64.StdEncoding.DecodeString(b.lastUpload.Content)
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestRunSkipsWhenServerHasHash(t *testing.T) {
	b, ts := newBackend(t, false)
	path, _ := writeTranscript(t)

	engine := NewEngine(testCred(ts.URL), nil, nil)
	engine.Run(context.Background(), Request{
		SessionID:      "sess-1",
		TranscriptPath: path,
		HookEvent:      "Stop",
	})

	check, upload, process := b.counts()
	assert.Equal(t, 1, check)
	assert.Zero(t, upload)
	assert.Zero(t, process)
}

func TestRunSessionEndTriggersProcessingOnSkip(t *testing.T) {
	b, ts := newBackend(t, false)
	path, _ := writeTranscript(t)

	engine := NewEngine(testCred(ts.URL), nil, nil)
	engine.Run(context.Background(), Request{
		SessionID:      "sess-1",
		TranscriptPath: path,
		HookEvent:      SessionEndEvent,
	})

	_, upload, process := b.counts()
	assert.Zero(t, upload)
	assert.Equal(t, 1, process)
}

func TestRunSessionEndTriggersProcessingAfterUpload(t *testing.T) {
	b, ts := newBackend(t, true)
	path, _ := writeTranscript(t)

	engine := NewEngine(testCred(ts.URL), nil, nil)
	engine.Run(context.Background(), Request{
		SessionID:      "sess-1",
		TranscriptPath: path,
		HookEvent:      SessionEndEvent,
	})

	_, upload, process := b.counts()
	assert.Equal(t, 1, upload)
	assert.Equal(t, 1, process)
}

func TestRunUnauthenticatedMakesNoRequests(t *testing.T) {
	b, ts := newBackend(t, true)
	path, _ := writeTranscript(t)

	cred := config.Credential{ServerURL: ts.URL}
	engine := NewEngine(cred, nil, nil)
	engine.Run(context.Background(), Request{
		SessionID:      "sess-1",
		TranscriptPath: path,
		HookEvent:      "Stop",
	})

	check, upload, process := b.counts()
	assert.Zero(t, check+upload+process)
}

func TestRunDisabledHookEventMakesNoRequests(t *testing.T) {
	b, ts := newBackend(t, true)
	path, _ := writeTranscript(t)

	cred := testCred(ts.URL)
	cred.EnabledHookEvents = []string{SessionEndEvent}
	engine := NewEngine(cred, nil, nil)
	engine.Run(context.Background(), Request{
		SessionID:      "sess-1",
		TranscriptPath: path,
		HookEvent:      "Stop",
	})

	check, upload, process := b.counts()
	assert.Zero(t, check+upload+process)
}

func TestRunManualAlwaysEligible(t *testing.T) {
	b, ts := newBackend(t, true)
	path, _ := writeTranscript(t)

	cred := testCred(ts.URL)
	cred.EnabledHookEvents = []string{SessionEndEvent}
	engine := NewEngine(cred, nil, nil)
	// Empty hook event means a user-started sync.
	engine.Run(context.Background(), Request{
		SessionID:      "sess-1",
		TranscriptPath: path,
	})

	_, upload, _ := b.counts()
	assert.Equal(t, 1, upload)
}

func TestRunMissingTranscript(t *testing.T) {
	b, ts := newBackend(t, true)
	journal := openJournal(t)

	engine := NewEngine(testCred(ts.URL), nil, journal)
	engine.Run(context.Background(), Request{
		SessionID:      "sess-1",
		TranscriptPath: filepath.Join(t.TempDir(), "nope.jsonl"),
		HookEvent:      "Stop",
	})

	check, upload, process := b.counts()
	assert.Zero(t, check+upload+process)
	assertOutcome(t, journal, history.OutcomeFailed)
}

func TestRunHashCheckTransportErrorAborts(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	path, _ := writeTranscript(t)
	journal := openJournal(t)

	engine := NewEngine(testCred(url), nil, journal)
	engine.Run(context.Background(), Request{
		SessionID:      "sess-1",
		TranscriptPath: path,
		HookEvent:      "Stop",
	})

	assertOutcome(t, journal, history.OutcomeFailed)
}

func TestRunUploadFailureContained(t *testing.T) {
	b, ts := newBackend(t, true)
	b.uploadStatus = http.StatusInternalServerError
	path, _ := writeTranscript(t)
	journal := openJournal(t)

	engine := NewEngine(testCred(ts.URL), nil, journal)
	engine.Run(context.Background(), Request{
		SessionID:      "sess-1",
		TranscriptPath: path,
		HookEvent:      SessionEndEvent,
	})

	_, _, process := b.counts()
	assert.Zero(t, process, "failed upload must not trigger processing")
	assertOutcome(t, journal, history.OutcomeFailed)
}

func TestRunRecordsUploadedOutcome(t *testing.T) {
	_, ts := newBackend(t, true)
	path, data := writeTranscript(t)
	journal := openJournal(t)

	engine := NewEngine(testCred(ts.URL), nil, journal)
	engine.Run(context.Background(), Request{
		SessionID:      "sess-1",
		TranscriptPath: path,
		HookEvent:      "Stop",
	})

	entries, err := journal.Recent(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, history.OutcomeUploaded, entries[0].Outcome)
	assert.Equal(t, "sess-1", entries[0].SessionID)
	assert.Equal(t, "Stop", entries[0].HookEvent)
	assert.Equal(t, HashBytes(data), entries[0].FileHash)
	assert.Equal(t, int64(len(data)), entries[0].FileSize)
}

func openJournal(t *testing.T) *history.DB {
	t.Helper()
	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func assertOutcome(t *testing.T, journal *history.DB, outcome string) {
	t.Helper()
	entries, err := journal.Recent(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, outcome, entries[0].Outcome)
}
