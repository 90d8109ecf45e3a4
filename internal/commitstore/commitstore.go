// Package commitstore implements the content-addressed commit store:
// Mercurial-form commit blobs backed by a blob store, indexed into a
// segmented-changelog DAG.
package commitstore

import (
	"context"
	"fmt"

	"github.com/scmcore/engine/internal/blobstore"
	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
	"github.com/scmcore/engine/internal/dag"
)

// CommitInput is one commit submitted to AddCommits.
type CommitInput struct {
	Vertex  coretypes.VertexName
	Parents []coretypes.VertexName
	RawText []byte
}

// CommitStore stores Mercurial-form commit blobs and keeps the DAG in
// step with them.
type CommitStore struct {
	blobs      blobstore.Blobstore
	graph      *dag.Dag
	repoPrefix string
}

// New returns a CommitStore writing blobs under repoPrefix and indexing
// vertices into graph.
func New(blobs blobstore.Blobstore, graph *dag.Dag, repoPrefix string) *CommitStore {
	return &CommitStore{blobs: blobs, graph: graph, repoPrefix: repoPrefix}
}

// blobKey returns the repo-prefixed blob key for vertex:
// "<repo-prefix>hgchangeset.sha1.<hex>".
func (s *CommitStore) blobKey(vertex coretypes.VertexName) string {
	return s.repoPrefix + "hgchangeset.sha1." + vertex.String()
}

// AddCommits verifies and stores each commit's blob, then extends the DAG
// with the batch's local heads. A commit's blob is `header || raw_text`
// with parents canonically ordered; its SHA-1 must equal its claimed
// Vertex or the whole batch fails with HashMismatch. Parents not present
// in the batch and not already known to the DAG fail as unknown parents.
func (s *CommitStore) AddCommits(ctx context.Context, commits []CommitInput) error {
	byVertex := make(map[string]CommitInput, len(commits))
	isParent := make(map[string]bool, len(commits))
	for _, c := range commits {
		byVertex[c.Vertex.Key()] = c
		for _, p := range c.Parents {
			isParent[p.Key()] = true
		}
	}

	blobs := make(map[string][]byte, len(commits))
	for _, c := range commits {
		header, err := canonicalHeader(c.Parents)
		if err != nil {
			return fmt.Errorf("commitstore: %s: %w", c.Vertex, err)
		}
		computed, err := computeVertexHash(c.Parents, c.RawText)
		if err != nil {
			return fmt.Errorf("commitstore: %s: %w", c.Vertex, err)
		}
		if !computed.Equal(c.Vertex) {
			return &coreerrors.HashMismatch{Expected: c.Vertex, Actual: computed}
		}
		blob := make([]byte, 0, headerSize+len(c.RawText))
		blob = append(blob, header[:]...)
		blob = append(blob, c.RawText...)
		blobs[c.Vertex.Key()] = blob
	}
	for _, c := range commits {
		if err := s.blobs.Put(ctx, s.blobKey(c.Vertex), blobs[c.Vertex.Key()]); err != nil {
			return fmt.Errorf("commitstore: store blob for %s: %w", c.Vertex, &coreerrors.Backend{Cause: err})
		}
	}

	var heads []coretypes.VertexName
	for _, c := range commits {
		if !isParent[c.Vertex.Key()] {
			heads = append(heads, c.Vertex)
		}
	}
	parentFn := func(_ context.Context, v coretypes.VertexName) ([]coretypes.VertexName, error) {
		c, ok := byVertex[v.Key()]
		if !ok {
			return nil, &coreerrors.NotFound{What: "parent commit", Key: v.String()}
		}
		return c.Parents, nil
	}
	if err := s.graph.AddHeads(ctx, parentFn, heads); err != nil {
		return fmt.Errorf("commitstore: index batch into dag: %w", err)
	}
	return nil
}

// Flush persists the blob store before flushing the DAG, so a vertex is
// always readable before it is indexed as reachable.
func (s *CommitStore) Flush(ctx context.Context, masterHeads []coretypes.VertexName) error {
	if err := s.blobs.Persist(ctx); err != nil {
		return fmt.Errorf("commitstore: persist blobs: %w", &coreerrors.Backend{Cause: err})
	}
	if err := s.graph.Flush(ctx, masterHeads); err != nil {
		return fmt.Errorf("commitstore: flush dag: %w", err)
	}
	return nil
}

// GetCommitRawText reads vertex's blob and strips its header, returning
// the raw payload, or NotFound if no blob is stored under that key.
func (s *CommitStore) GetCommitRawText(ctx context.Context, vertex coretypes.VertexName) ([]byte, error) {
	b, ok, err := s.blobs.Get(ctx, s.blobKey(vertex))
	if err != nil {
		return nil, fmt.Errorf("commitstore: read blob for %s: %w", vertex, &coreerrors.Backend{Cause: err})
	}
	if !ok {
		return nil, &coreerrors.NotFound{What: "commit", Key: vertex.String()}
	}
	if len(b) < headerSize {
		return nil, fmt.Errorf("commitstore: blob for %s shorter than header (%d bytes)", vertex, len(b))
	}
	return b[headerSize:], nil
}
