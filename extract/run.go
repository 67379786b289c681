package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pcavallo/atomforge/atom"
	"github.com/pcavallo/atomforge/fsio"
	"github.com/pcavallo/atomforge/ingest"
	"github.com/pcavallo/atomforge/linearize"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	conversationIDKey
)

// WithRunID attaches a run identifier to the context; it travels with
// every extraction call for log correlation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFrom reads the run identifier, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

func withConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationIDFrom reads the conversation being processed, or "".
func ConversationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey).(string)
	return id
}

// Run extracts atoms for every linearized conversation and writes
// <outDir>/<conversation_id>/atoms.jsonl. Conversations fan out over a
// bounded worker pool; individual failures are logged and skipped. An
// error is returned only when every conversation fails.
func (e *Extractor) Run(ctx context.Context, records []linearize.Record, conversations []ingest.Conversation, outDir string) error {
	convByID := make(map[string]*ingest.Conversation, len(conversations))
	for i := range conversations {
		convByID[conversations[i].ID] = &conversations[i]
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		failed    int
	)
	sem := make(chan struct{}, e.cfg.Concurrency)

	for i := range records {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func(rec *linearize.Record) {
			defer wg.Done()
			defer func() { <-sem }()

			convCtx := withConversationID(ctx, rec.ConversationID)
			err := e.runConversation(convCtx, rec, convByID[rec.ConversationID], outDir)

			mu.Lock()
			if err != nil {
				failed++
				slog.Error("extract: conversation failed",
					"run_id", RunIDFrom(ctx),
					"conversation_id", rec.ConversationID,
					"error", err,
				)
			} else {
				completed++
			}
			mu.Unlock()
		}(&records[i])
	}
	wg.Wait()

	slog.Info("extract: run finished",
		"run_id", RunIDFrom(ctx),
		"completed", completed,
		"failed", failed,
	)
	if failed > 0 && completed == 0 {
		return fmt.Errorf("extraction failed for all %d conversations", failed)
	}
	return nil
}

func (e *Extractor) runConversation(ctx context.Context, rec *linearize.Record, conv *ingest.Conversation, outDir string) error {
	outPath := filepath.Join(outDir, rec.ConversationID, "atoms.jsonl")

	if e.cfg.SkipExisting {
		if info, err := os.Stat(outPath); err == nil && info.Size() > 0 {
			slog.Info("extract: atoms exist, skipping",
				"conversation_id", rec.ConversationID)
			return nil
		}
	}

	var atoms []atom.Atom

	// Meetings get one structured call over the whole record; any
	// failure or empty result falls through to the two-pass flow.
	usedFastPath := false
	if conv != nil && conv.IsMeeting() {
		meetingAtoms, err := e.ExtractMeeting(ctx, rec)
		if err != nil {
			slog.Warn("extract: meeting fast path failed, falling back",
				"conversation_id", rec.ConversationID, "error", err)
		} else if len(meetingAtoms) > 0 {
			atoms = meetingAtoms
			usedFastPath = true
		}
	}

	if !usedFastPath {
		extracted, err := e.ExtractConversation(ctx, rec)
		if err != nil {
			return err
		}
		atoms = extracted
	}

	if conv != nil {
		extractedAt := time.Now().UTC().Format(time.RFC3339)
		atoms = append(atoms, ActionItems(conv, extractedAt)...)
	}

	if err := fsio.WriteJSONL(outPath, atoms); err != nil {
		return err
	}
	slog.Info("extract: wrote atoms",
		"conversation_id", rec.ConversationID,
		"atoms", len(atoms),
		"fast_path", usedFastPath,
	)
	return nil
}
