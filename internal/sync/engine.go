package sync

import (
	"context"
	"os"
	"path/filepath"

	"github.com/usechronicle/chronicle/internal/client"
	"github.com/usechronicle/chronicle/internal/config"
	"github.com/usechronicle/chronicle/internal/gitmeta"
	"github.com/usechronicle/chronicle/internal/history"
	"github.com/usechronicle/chronicle/internal/logging"
)

const provider = "claude-code"

// Engine runs one sync pass: gate checks, hash dedup against the
// server, artifact upload, and the post-session processing trigger.
// It never fails the caller; hooks run inside the agent runtime and a
// sync problem must not break the user's session, so every failure is
// logged and swallowed.
type Engine struct {
	cred    config.Credential
	client  *client.Client
	log     *logging.Logger
	journal *history.DB
}

func NewEngine(cred config.Credential, log *logging.Logger, journal *history.DB) *Engine {
	return &Engine{
		cred:    cred,
		client:  client.New(cred.ServerURL, cred.APIKey),
		log:     log,
		journal: journal,
	}
}

// Run executes the sync for one request. All outcomes, including
// failures, end with a normal return.
func (e *Engine) Run(ctx context.Context, req Request) {
	if req.HookEvent == "" {
		req.HookEvent = ManualEvent
	}
	if req.SessionID == "" || req.TranscriptPath == "" {
		e.log.Errorf("sync: missing session id or transcript path")
		return
	}
	if !e.cred.Authenticated() {
		e.log.Infof("sync: no credential configured, skipping (run `chronicle login`)")
		return
	}
	if !e.cred.HookEnabled(req.HookEvent) {
		e.log.Infof("sync: hook event %s not enabled, skipping", req.HookEvent)
		return
	}

	data, err := os.ReadFile(req.TranscriptPath)
	if err != nil {
		if os.IsNotExist(err) {
			e.log.Errorf("sync: transcript not found: %s", req.TranscriptPath)
		} else {
			e.log.Errorf("sync: reading transcript: %v", err)
		}
		e.record(req, history.OutcomeFailed, "", 0)
		return
	}

	hash := HashBytes(data)
	decision, err := e.client.CheckHash(ctx, req.SessionID, hash)
	if err != nil {
		e.log.Errorf("sync: hash check failed: %v", err)
		e.record(req, history.OutcomeFailed, hash, int64(len(data)))
		return
	}
	if !decision.NeedsUpload {
		e.log.Infof("sync: session %s unchanged on server, skipping upload", req.SessionID)
		if req.HookEvent == SessionEndEvent {
			e.triggerProcessing(ctx, req.SessionID)
		}
		e.record(req, history.OutcomeSkipped, hash, int64(len(data)))
		return
	}

	artifact, err := BuildArtifact(data)
	if err != nil {
		e.log.Errorf("sync: preparing artifact: %v", err)
		e.record(req, history.OutcomeFailed, hash, int64(len(data)))
		return
	}
	if artifact.InvalidLines > 0 {
		e.log.Warnf("sync: transcript %s has %d malformed line(s) of %d",
			filepath.Base(req.TranscriptPath), artifact.InvalidLines, artifact.Lines)
	}

	meta := gitmeta.Probe(ctx, req.WorkingDir)
	upload := client.UploadRequest{
		Provider:         provider,
		RepositoryName:   gitmeta.RepositoryName(req.WorkingDir),
		SessionID:        req.SessionID,
		FileName:         filepath.Base(req.TranscriptPath),
		FileHash:         artifact.Hash,
		Content:          artifact.Content,
		ContentEncoding:  "gzip",
		FileSize:         artifact.Size,
		GitBranch:        meta.Branch,
		LatestCommitHash: meta.LatestCommit,
		FirstCommitHash:  meta.FirstCommit,
		RepositoryMetadata: client.RepositoryMetadata{
			CWD:                    req.WorkingDir,
			GitRemoteURL:           meta.RemoteURL,
			DetectedRepositoryType: gitmeta.DetectRepositoryType(req.WorkingDir),
		},
	}
	if err := e.client.Upload(ctx, upload); err != nil {
		e.log.Errorf("sync: upload failed: %v", err)
		e.record(req, history.OutcomeFailed, hash, artifact.Size)
		return
	}
	e.log.Infof("sync: uploaded session %s (%d bytes, event %s)",
		req.SessionID, artifact.Size, req.HookEvent)

	if req.HookEvent == SessionEndEvent {
		e.triggerProcessing(ctx, req.SessionID)
	}
	e.record(req, history.OutcomeUploaded, hash, artifact.Size)
}

// triggerProcessing is best-effort: the server also schedules
// processing on its own, the trigger just makes it prompt.
func (e *Engine) triggerProcessing(ctx context.Context, sessionID string) {
	if err := e.client.TriggerProcessing(ctx, sessionID); err != nil {
		e.log.Warnf("sync: processing trigger failed: %v", err)
	}
}

func (e *Engine) record(req Request, outcome, hash string, size int64) {
	err := e.journal.Record(history.Entry{
		SessionID: req.SessionID,
		HookEvent: req.HookEvent,
		Outcome:   outcome,
		FileHash:  hash,
		FileSize:  size,
	})
	if err != nil {
		e.log.Warnf("sync: recording history: %v", err)
	}
}
