package derived

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/scmcore/engine/internal/blobstore"
	"github.com/scmcore/engine/internal/coretypes"
)

// changesetInfoValue is V_T for "changeset-info": a flattened, queryable
// summary of the bonsai changeset. It has no dependency on any other
// type's derivation, only on the bonsai itself already existing.
type changesetInfoValue struct {
	Message    string   `json:"message"`
	Author     string   `json:"author"`
	AuthorDate int64    `json:"author_date_ms"`
	Parents    []string `json:"parents"`
}

func changesetInfoDeriveBatch(ctx context.Context, repo Repo, _ blobstore.Blobstore, css []coretypes.CsId, _ Mapping, _ Mode) (map[coretypes.CsId][]byte, error) {
	out := make(map[coretypes.CsId][]byte, len(css))
	for _, cs := range css {
		bc, err := repo.GetBonsaiChangeset(ctx, cs)
		if err != nil {
			return nil, err
		}
		v := changesetInfoValue{Message: bc.Message, Author: bc.Author, AuthorDate: bc.AuthorDateUnixMillis}
		for _, p := range bc.Parents {
			v.Parents = append(v.Parents, p.String())
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[cs] = b
	}
	return out, nil
}

// mappedHgChangesetDeriveBatch computes the 20-byte Mercurial-form id a
// bonsai changeset would have, chaining through parents' own
// mapped-hg-changeset values the same way the commit store's hash law
// chains through Mercurial-form parent hashes: a commit's hg id embeds
// its parents' hg ids.
func mappedHgChangesetDeriveBatch(ctx context.Context, repo Repo, _ blobstore.Blobstore, css []coretypes.CsId, mapping Mapping, mode Mode) (map[coretypes.CsId][]byte, error) {
	out := make(map[coretypes.CsId][]byte, len(css))
	for _, cs := range css {
		bc, err := repo.GetBonsaiChangeset(ctx, cs)
		if err != nil {
			return nil, err
		}
		var parentHgHashes [][]byte
		for _, p := range bc.Parents {
			vals, err := mapping.Get(ctx, []coretypes.CsId{p})
			if err != nil {
				return nil, err
			}
			hg, ok := vals[p]
			if !ok {
				if mode == OnlyIfEnabled {
					return nil, fmt.Errorf("mapped-hg-changeset: parent %s not yet derived", p)
				}
				hg = make([]byte, 20) // Unsafe mode: treat as null-hash placeholder
			}
			parentHgHashes = append(parentHgHashes, hg)
		}
		for len(parentHgHashes) < 2 {
			parentHgHashes = append(parentHgHashes, make([]byte, 20))
		}
		sort.Slice(parentHgHashes, func(i, j int) bool { return bytes.Compare(parentHgHashes[i], parentHgHashes[j]) < 0 })

		payload, err := bc.Encode()
		if err != nil {
			return nil, err
		}
		h := sha1.New()
		h.Write(parentHgHashes[0])
		h.Write(parentHgHashes[1])
		h.Write(payload)
		out[cs] = h.Sum(nil)
	}
	return out, nil
}

// isDeleteKind selects only deletions, the filter deleted-manifests uses
// to fold a narrower manifest than fsnodes/unodes: it tracks where paths
// were removed, not their surviving content.
func isDeleteKind(k coretypes.FileChangeKind) bool { return k == coretypes.FileDelete }

// manifestLikeValue is the shared shape for fsnodes/unodes/deleted-manifests:
// a root hash folding this commit's relevant file changes over its
// parents' same-type root hashes, plus the flat listing written out as an
// auxiliary blob for inspection.
type manifestLikeValue struct {
	RootHash string `json:"root_hash"`
}

// manifestDeriveBatch builds fsnodes/unodes/deleted-manifests. stepArity
// bounds how many paths' worth of listing data is written per auxiliary
// blob page: a production segmented manifest walks a commit's touched
// paths one bounded batch at a time rather than materialising the whole
// listing in a single write. stepArity <= 0 means one unbounded page.
func manifestDeriveBatch(typeName string, include func(coretypes.FileChangeKind) bool, stepArity int) DeriveBatchFunc {
	return func(ctx context.Context, repo Repo, blobs blobstore.Blobstore, css []coretypes.CsId, mapping Mapping, mode Mode) (map[coretypes.CsId][]byte, error) {
		out := make(map[coretypes.CsId][]byte, len(css))
		for _, cs := range css {
			bc, err := repo.GetBonsaiChangeset(ctx, cs)
			if err != nil {
				return nil, err
			}

			paths := make([]string, 0, len(bc.FileChanges))
			for path, fc := range bc.FileChanges {
				if include(fc.Kind) {
					paths = append(paths, path)
				}
			}
			sort.Strings(paths)

			h := sha256.New()
			for _, p := range paths {
				fc := bc.FileChanges[p]
				fmt.Fprintf(h, "%s\x00%s\x00%s\n", p, fc.Kind, fc.ContentId)
			}
			for _, p := range bc.Parents {
				vals, err := mapping.Get(ctx, []coretypes.CsId{p})
				if err != nil {
					return nil, err
				}
				parentVal, ok := vals[p]
				if !ok {
					if mode == OnlyIfEnabled {
						return nil, fmt.Errorf("%s: parent %s not yet derived", typeName, p)
					}
					continue
				}
				h.Write(parentVal)
			}
			root := h.Sum(nil)

			arity := stepArity
			if arity <= 0 {
				arity = len(paths)
			}
			if arity <= 0 {
				arity = 1
			}
			for start, page := 0, 0; start < len(paths); start, page = start+arity, page+1 {
				end := start + arity
				if end > len(paths) {
					end = len(paths)
				}
				pageBytes, err := json.Marshal(paths[start:end])
				if err != nil {
					return nil, err
				}
				pageKey := fmt.Sprintf("derived.%s.listing.%s.page%d", typeName, cs, page)
				if err := blobs.Put(ctx, pageKey, pageBytes); err != nil {
					return nil, err
				}
			}

			v, err := json.Marshal(manifestLikeValue{RootHash: fmt.Sprintf("%x", root)})
			if err != nil {
				return nil, err
			}
			out[cs] = v
		}
		return out, nil
	}
}

// pathHistoryValue is shared by blame and fastlog: per-path provenance
// chains built on top of unodes.
type pathHistoryValue struct {
	Paths map[string][]string `json:"paths"`
}

// pathHistoryDeriveBatch builds blame/fastlog's per-path chain of
// authoring changesets. unodes must already be derived for the same
// changeset (a cross-type dependency, unlike every other type here which
// only depends on its own prior derivations).
func pathHistoryDeriveBatch(typeName string, unodes *DerivedUtils, maxHistory int) DeriveBatchFunc {
	return func(ctx context.Context, repo Repo, _ blobstore.Blobstore, css []coretypes.CsId, mapping Mapping, mode Mode) (map[coretypes.CsId][]byte, error) {
		out := make(map[coretypes.CsId][]byte, len(css))
		for _, cs := range css {
			if mode == OnlyIfEnabled {
				present, err := unodes.Mapping.Get(ctx, []coretypes.CsId{cs})
				if err != nil {
					return nil, err
				}
				if _, ok := present[cs]; !ok {
					return nil, fmt.Errorf("%s: unodes not yet derived for %s", typeName, cs)
				}
			}

			bc, err := repo.GetBonsaiChangeset(ctx, cs)
			if err != nil {
				return nil, err
			}

			merged := map[string][]string{}
			for _, p := range bc.Parents {
				vals, err := mapping.Get(ctx, []coretypes.CsId{p})
				if err != nil {
					return nil, err
				}
				raw, ok := vals[p]
				if !ok {
					continue
				}
				var parentVal pathHistoryValue
				if err := json.Unmarshal(raw, &parentVal); err != nil {
					return nil, err
				}
				for path, chain := range parentVal.Paths {
					merged[path] = append([]string(nil), chain...)
				}
			}

			for path := range bc.FileChanges {
				chain := append([]string{cs.String()}, merged[path]...)
				if len(chain) > maxHistory {
					chain = chain[:maxHistory]
				}
				merged[path] = chain
			}

			v, err := json.Marshal(pathHistoryValue{Paths: merged})
			if err != nil {
				return nil, err
			}
			out[cs] = v
		}
		return out, nil
	}
}

// PublicChecker reports whether cs is reachable from a public bookmark,
// consulted by filenodes-only-public derivation.
type PublicChecker func(ctx context.Context, cs coretypes.CsId) (bool, error)

func filenodesOnlyPublicDeriveBatch(isPublic PublicChecker, stepArity int) DeriveBatchFunc {
	inner := manifestDeriveBatch("filenodes-only-public", func(k coretypes.FileChangeKind) bool {
		return k == coretypes.FileAdd || k == coretypes.FileModify
	}, stepArity)
	return func(ctx context.Context, repo Repo, blobs blobstore.Blobstore, css []coretypes.CsId, mapping Mapping, mode Mode) (map[coretypes.CsId][]byte, error) {
		for _, cs := range css {
			public, err := isPublic(ctx, cs)
			if err != nil {
				return nil, err
			}
			if !public && mode == OnlyIfEnabled {
				return nil, fmt.Errorf("filenodes-only-public: %s is not reachable from a public bookmark", cs)
			}
		}
		return inner(ctx, repo, blobs, css, mapping, mode)
	}
}
