// Package writer implements the durability layer for one writer's patch
// stream (spec §5/§6): appending a patch as a content-addressed commit
// under CAS discipline against the writer's ref, and loading the patch
// sequence between two tips by walking that ref's parent chain. Grounded
// in the same commit-with-trailers idiom warp/checkpoint uses, here
// retargeted at single-parent patch chains instead of multi-parent
// checkpoint commits.
package writer

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/git-warp/warp"
	"github.com/git-warp/warp/store"
	"github.com/git-warp/warp/trailer"
)

const patchBlobName = "patch.cbor"

// RefName returns the on-disk writer ref name from spec §6:
// refs/warp/<graph>/writers/<writerId>.
func RefName(graph, writerID string) string {
	return fmt.Sprintf("refs/warp/%s/writers/%s", graph, writerID)
}

// Append commits patch as a new child object of the writer's current
// tip and advances the writer ref, enforcing compare-and-swap against
// expectedTip (the tip the caller observed when it started building the
// patch). A mismatch means another session advanced the ref first and
// raises ErrWriterRefAdvanced (spec §5's "divergence raises
// WRITER_REF_ADVANCED, instructing the caller to retry").
func Append(ctx context.Context, port store.Port, graph string, patch warp.Patch, expectedTip warp.OID) (warp.OID, error) {
	if len(patch.Ops) == 0 {
		return "", warp.NewWriterError("EMPTY_PATCH", "patch has no ops")
	}
	if err := patch.Validate(); err != nil {
		return "", fmt.Errorf("writer: invalid patch: %w", err)
	}

	ref := RefName(graph, patch.WriterID)
	current, ok, err := port.ReadRef(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("writer: read ref: %w", err)
	}
	currentTip := warp.OID("")
	if ok {
		currentTip = current
	}
	if currentTip != expectedTip {
		return "", warp.NewWriterError("WRITER_REF_ADVANCED", "writer ref advanced since patch session opened")
	}

	patchBytes, err := cbor.Marshal(patch)
	if err != nil {
		return "", fmt.Errorf("writer: marshal patch: %w", err)
	}
	patchOid, err := port.WriteBlob(ctx, patchBytes)
	if err != nil {
		return "", fmt.Errorf("writer: write patch blob: %w", err)
	}

	treeOid, err := port.WriteTree(ctx, []store.TreeEntry{{Path: patchBlobName, OID: patchOid}})
	if err != nil {
		return "", fmt.Errorf("writer: write tree: %w", err)
	}

	var parents []warp.OID
	if currentTip != "" {
		parents = []warp.OID{currentTip}
	}

	message := trailer.Format("warp patch", [][2]string{
		{trailer.KeyKind, trailer.KindPatch},
		{trailer.KeyGraph, graph},
		{trailer.KeySchema, fmt.Sprintf("%d", warp.PatchSchema)},
		{trailer.KeyPatch, string(patchOid)},
	})

	newTip, err := port.CommitNodeWithTree(ctx, treeOid, parents, message)
	if err != nil {
		return "", warp.NewWriterError("PERSIST_WRITE_FAILED", fmt.Sprintf("commit patch: %v", err))
	}
	if err := port.UpdateRef(ctx, ref, newTip); err != nil {
		return "", warp.NewWriterError("PERSIST_WRITE_FAILED", fmt.Sprintf("update writer ref: %v", err))
	}
	return newTip, nil
}

// Load walks the writer's commit chain backward from tip until it
// reaches stopAt (exclusive) or a commit with no parent, collecting each
// patch commit's (Patch, sha) pair. The result is ordered oldest to
// newest, ready to feed warp.Reduce/ReduceWithReceipts directly.
func Load(ctx context.Context, port store.Port, tip, stopAt warp.OID) ([]warp.PatchRecord, error) {
	var chain []warp.PatchRecord

	cur := tip
	for cur != "" && cur != stopAt {
		info, err := port.GetNodeInfo(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("writer: get node info %s: %w", cur, err)
		}

		_, trailers := trailer.Parse(info.Message)
		if trailers[trailer.KeyKind] == trailer.KindPatch {
			entries, err := port.ReadTreeOids(ctx, info.TreeOid)
			if err != nil {
				return nil, fmt.Errorf("writer: read tree %s: %w", info.TreeOid, err)
			}
			patchOid, ok := entries[patchBlobName]
			if !ok {
				return nil, warp.NewInvariantError("MISSING_PATCH_BLOB", fmt.Sprintf("patch commit %s has no patch.cbor entry", cur))
			}
			raw, err := port.ReadBlob(ctx, patchOid)
			if err != nil {
				return nil, fmt.Errorf("writer: read patch blob %s: %w", patchOid, err)
			}
			var patch warp.Patch
			if err := cbor.Unmarshal(raw, &patch); err != nil {
				return nil, fmt.Errorf("writer: unmarshal patch %s: %w", patchOid, err)
			}
			chain = append(chain, warp.PatchRecord{Patch: patch, Sha: cur})
		}

		if len(info.Parents) == 0 {
			break
		}
		cur = info.Parents[0]
	}

	// Reverse: chain was collected newest-first by walking backward.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
