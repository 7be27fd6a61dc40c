// Package ingest consumes worker completion messages: attributes them to a
// cell, deduplicates redelivery, and writes results into the entity store
// and run status table.
package ingest

import (
	"context"
	"log"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"promptarena/internal/archive"
	"promptarena/internal/dispatch"
	"promptarena/internal/entity"
	"promptarena/internal/resultcache"
	"promptarena/internal/runstatus"
	"promptarena/internal/schemameta"
	"promptarena/internal/worker"
)

// recentlySeenSize bounds the dedup set; the worker transport does not
// guarantee exactly-once delivery.
const recentlySeenSize = 128

type Ingestor struct {
	store      *entity.Store
	status     *runstatus.Table
	schemas    schemameta.Provider
	dispatcher *dispatch.Dispatcher
	results    resultcache.Cache
	archiver   Archiver
	seen       *lru.Cache[string, struct{}]
}

// Archiver records applied results durably. Optional; nil disables
// archiving.
type Archiver interface {
	Save(ctx context.Context, rec archive.Record, payload []byte) error
}

func (in *Ingestor) SetArchiver(a Archiver) {
	in.archiver = a
}

func New(store *entity.Store, status *runstatus.Table, schemas schemameta.Provider, dispatcher *dispatch.Dispatcher, results resultcache.Cache) *Ingestor {
	seen, _ := lru.New[string, struct{}](recentlySeenSize)
	return &Ingestor{
		store:      store,
		status:     status,
		schemas:    schemas,
		dispatcher: dispatcher,
		results:    results,
		seen:       seen,
	}
}

// Deliver implements worker.Sink.
func (in *Ingestor) Deliver(res worker.Result) {
	in.Ingest(context.Background(), res)
}

// Ingest processes one completion message. It never returns an error to the
// transport; unattributable or duplicate messages are dropped and failures
// are encoded into the stored result shape.
func (in *Ingestor) Ingest(ctx context.Context, res worker.Result) {
	pending, hadPending := in.dispatcher.TakePending(res.RunID)

	revisionID := in.resolveRevision(res, pending, hadPending)
	if revisionID == "" {
		log.Printf("run %s result has no derivable revision, dropped", res.RunID)
		return
	}
	rowID := strings.TrimSpace(res.RowID)
	if rowID == "" && hadPending {
		rowID = pending.RowOrTurnID
	}
	if rowID == "" {
		log.Printf("run %s result has no row or turn, dropped", res.RunID)
		return
	}

	messageID := strings.TrimSpace(res.MessageID)
	if messageID == "" {
		messageID = "none"
	}
	dedupKey := res.RunID + "-" + rowID + "-" + revisionID + "-" + messageID
	if alreadySeen, _ := in.seen.ContainsOrAdd(dedupKey, struct{}{}); alreadySeen {
		return
	}

	normalized := normalizeResult(res.Result)
	hash, payload := hashResult(normalized)
	if in.results != nil {
		in.results.Put(ctx, hash, payload)
	}

	// A mismatched token means the user cancelled and re-ran; the late
	// result must not overwrite the newer run.
	if !in.status.MarkDone(rowID, revisionID, res.RunID, hash) {
		log.Printf("run %s result is stale for %s:%s, ignored", res.RunID, rowID, revisionID)
		return
	}

	if in.archiver != nil {
		rec := archive.Record{
			RunID:      res.RunID,
			TargetID:   rowID,
			RevisionID: revisionID,
			ResultHash: hash,
		}
		if err := in.archiver.Save(ctx, rec, payload); err != nil {
			log.Printf("archive run %s: %v", res.RunID, err)
		}
	}

	if _, isTurn := in.store.Turn(rowID); isTurn {
		in.writeTurnResult(rowID, revisionID, normalized)
		return
	}
	in.writeRowResult(rowID, revisionID, hash)
}

// resolveRevision follows the attribution chain: explicit revision field,
// embedded variant object, pending-request record, then the row's
// last-known revision.
func (in *Ingestor) resolveRevision(res worker.Result, pending dispatch.Pending, hadPending bool) string {
	if id := strings.TrimSpace(res.RevisionID); id != "" {
		return id
	}
	if res.Variant != nil {
		if id := strings.TrimSpace(res.Variant.ID); id != "" {
			return id
		}
	}
	if id := strings.TrimSpace(res.VariantID); id != "" {
		if _, ok := in.store.Revision(id); ok {
			return id
		}
	}
	if hadPending && pending.RevisionID != "" {
		return pending.RevisionID
	}
	return in.lastKnownRevision(res.RowID)
}

// lastKnownRevision picks the sole revision a row has state for, or the
// baseline when ambiguous.
func (in *Ingestor) lastKnownRevision(rowID string) string {
	row, ok := in.store.Row(rowID)
	if !ok {
		if turn, ok := in.store.Turn(rowID); ok {
			return turn.RevisionID
		}
		return ""
	}
	keys := make(map[string]struct{})
	for rev := range row.VariablesByRevision {
		keys[rev] = struct{}{}
	}
	for rev := range row.ResponsesByRevision {
		keys[rev] = struct{}{}
	}
	if len(keys) == 1 {
		for rev := range keys {
			return rev
		}
	}
	baseline, _ := in.store.Baseline()
	return baseline
}

func (in *Ingestor) writeTurnResult(turnID, revisionID string, normalized normalizedResult) {
	node := in.assistantNode(revisionID, normalized.Response.Data)
	in.store.SetTurnAssistant(turnID, revisionID, &node)
}

func (in *Ingestor) writeRowResult(rowID, revisionID, hash string) {
	node := in.assistantNode(revisionID, hash)
	in.store.AppendRowResponse(rowID, revisionID, node)
}

// assistantNode builds an assistant message node from the revision's message
// schema, falling back to a minimal well-formed shape.
func (in *Ingestor) assistantNode(revisionID, content string) entity.MessageNode {
	node := entity.NewMessageNode("assistant", entity.TextContent(content))
	if in.schemas != nil {
		if schema, ok := in.schemas.MessageSchema(revisionID); ok {
			node.Meta = schema.MessageMeta.Clone()
			node.Role.Meta = schema.RoleMeta.Clone()
			node.Content.Meta = schema.ContentMeta.Clone()
		}
	}
	return node
}
