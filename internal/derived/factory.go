package derived

import (
	"context"
	"fmt"

	"github.com/scmcore/engine/internal/blobstore"
	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
	"github.com/scmcore/engine/internal/perfcounters"
)

// schemaVersions pins each recognised type's current schema major/minor,
// checked by CheckSchemaVersion before a Factory hands out a
// DerivedUtils for it.
var schemaVersions = map[string]string{
	"fsnodes":               "v1.0.0",
	"unodes":                "v1.0.0",
	"fastlog":               "v1.0.0",
	"blame":                 "v1.0.0",
	"filenodes-only-public": "v1.0.0",
	"changeset-info":        "v1.0.0",
	"mapped-hg-changeset":   "v1.0.0",
	"deleted-manifests":     "v1.0.0",
}

// Factory builds DerivedUtils values by type name, sharing one Repo, blob
// store, and counters across every type it constructs, and wiring the
// blame/fastlog → unodes cross-type dependency internally.
type Factory struct {
	repo              Repo
	blobs             blobstore.Blobstore
	counters          *perfcounters.Counters
	isPublic          PublicChecker
	manifestStepArity int
	instances         map[string]*DerivedUtils
}

// NewFactory returns a Factory. isPublic may be nil if
// filenodes-only-public will never be requested; counters may be nil.
// manifestStepArity bounds the fsnodes/unodes/deleted-manifests/
// filenodes-only-public listing page size; <= 0 means unbounded.
func NewFactory(repo Repo, blobs blobstore.Blobstore, counters *perfcounters.Counters, isPublic PublicChecker, manifestStepArity int) *Factory {
	return &Factory{repo: repo, blobs: blobs, counters: counters, isPublic: isPublic, manifestStepArity: manifestStepArity, instances: make(map[string]*DerivedUtils)}
}

// Get dispatches name to a constructed DerivedUtils, failing with
// coreerrors.UnsupportedDerivedType for anything not in the recognised set.
func (f *Factory) Get(ctx context.Context, name string) (*DerivedUtils, error) {
	if existing, ok := f.instances[name]; ok {
		return existing, nil
	}

	version, known := schemaVersions[name]
	if !known {
		return nil, &coreerrors.UnsupportedDerivedType{Name: name}
	}
	if err := CheckSchemaVersion(ctx, f.blobs, name, version); err != nil {
		return nil, err
	}

	var deriveBatch DeriveBatchFunc
	switch name {
	case "changeset-info":
		deriveBatch = changesetInfoDeriveBatch
	case "mapped-hg-changeset":
		deriveBatch = mappedHgChangesetDeriveBatch
	case "fsnodes":
		deriveBatch = manifestDeriveBatch("fsnodes", func(k coretypes.FileChangeKind) bool { return true }, f.manifestStepArity)
	case "unodes":
		deriveBatch = manifestDeriveBatch("unodes", func(k coretypes.FileChangeKind) bool { return true }, f.manifestStepArity)
	case "deleted-manifests":
		deriveBatch = manifestDeriveBatch("deleted-manifests", isDeleteKind, f.manifestStepArity)
	case "filenodes-only-public":
		if f.isPublic == nil {
			return nil, fmt.Errorf("derived: filenodes-only-public requires a PublicChecker, none configured")
		}
		deriveBatch = filenodesOnlyPublicDeriveBatch(f.isPublic, f.manifestStepArity)
	case "blame", "fastlog":
		unodes, err := f.Get(ctx, "unodes")
		if err != nil {
			return nil, err
		}
		maxHistory := 50
		if name == "fastlog" {
			maxHistory = 1
		}
		deriveBatch = pathHistoryDeriveBatch(name, unodes, maxHistory)
	}

	u := New(name, version, NewBlobMapping(name, f.blobs), f.repo, f.blobs, deriveBatch, f.counters)
	f.instances[name] = u
	return u, nil
}
