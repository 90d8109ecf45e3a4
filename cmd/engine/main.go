// Command engine is the composition root for the scmcore engine: it
// wires the storage, DAG, bookmark, and derived-data components into one
// running repository handle. It does not speak any wire protocol;
// transport is an external collaborator. It exists so the full
// write/read wiring is exercised by something a human can run behind a
// single binary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scmcore/engine/internal/blobstore"
	"github.com/scmcore/engine/internal/bookmarks"
	"github.com/scmcore/engine/internal/commitstore"
	"github.com/scmcore/engine/internal/config"
	"github.com/scmcore/engine/internal/corecontext"
	"github.com/scmcore/engine/internal/corelog"
	"github.com/scmcore/engine/internal/coretypes"
	"github.com/scmcore/engine/internal/dag"
	"github.com/scmcore/engine/internal/derived"
	"github.com/scmcore/engine/internal/idmap"
	"github.com/scmcore/engine/internal/perfcounters"
	"github.com/scmcore/engine/internal/sqlstore"
)

// Repo bundles one repository's worth of wired components behind a
// single handle.
type Repo struct {
	Settings  *config.Settings
	DB        *sqlstore.DB
	Blobs     blobstore.Blobstore
	IdMap     *idmap.IdMap
	Dag       *dag.Dag
	Commits   *commitstore.CommitStore
	Bookmarks *bookmarks.Store
	Derived   *derived.Factory
	Counters  *perfcounters.Counters
	Policy    *config.PolicyWatcher // nil if Settings.PolicyFile is unset
}

const repoIdSingleTenant = 1

// Open wires one repository's components from settings: a SQLite-backed
// IdMap and bookmark store sharing one database, a disk blob store
// indexed by a segmented-changelog DAG, and the derived-data factory
// reading bonsai changesets back out of the blob store.
func Open(ctx context.Context, settings *config.Settings) (*Repo, error) {
	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	db, err := sqlstore.Open(filepath.Join(settings.DataDir, "engine.sqlite3"))
	if err != nil {
		return nil, fmt.Errorf("engine: open sqlstore: %w", err)
	}

	blobs, err := blobstore.NewDisk(filepath.Join(settings.DataDir, "blobs"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: open blobstore: %w", err)
	}

	counters := &perfcounters.Counters{}
	replica := sqlstore.SameProcessMonitor{}

	im := idmap.New(db, repoIdSingleTenant, replica, counters, settings.IdMapChunkSize, settings.ReplicaLagTimeout)
	graph := dag.New(im, settings.DataDir, counters)
	commits := commitstore.New(blobs, graph, "")

	var policy *config.PolicyWatcher
	namespacePolicy := bookmarks.NamespacePolicy{Mode: bookmarks.AnyKind}
	var acl bookmarks.ACL = bookmarks.AllowAllACL{}
	if settings.PolicyFile != "" {
		policy, err = config.WatchPolicy(settings.PolicyFile, func(err error) {
			logger := corelog.Component("config")
			logger.Warn().Err(err).Msg("policy reload failed, keeping previous snapshot")
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("engine: load policy: %w", err)
		}
		snap := policy.Snapshot()
		namespacePolicy = snap.Namespace
		acl = snap
	}

	bm := bookmarks.New(db, repoIdSingleTenant, replica, counters, namespacePolicy, acl)

	bonsaiRepo := &bonsaiReader{blobs: blobs}
	factory := derived.NewFactory(bonsaiRepo, blobs, counters, nil, settings.ManifestStepArity)

	return &Repo{
		Settings:  settings,
		DB:        db,
		Blobs:     blobs,
		IdMap:     im,
		Dag:       graph,
		Commits:   commits,
		Bookmarks: bm,
		Derived:   factory,
		Counters:  counters,
		Policy:    policy,
	}, nil
}

// Close releases the repo's held resources.
func (r *Repo) Close() error {
	if r.Policy != nil {
		r.Policy.Close()
	}
	return r.DB.Close()
}

// DescribeMany derives "changeset-info" for a small, request-scoped batch
// of changesets (e.g. rendering a page of commit history), bounded by
// Settings.PerRequestFanout so one inbound request cannot open an
// unbounded number of concurrent Derive calls.
func (r *Repo) DescribeMany(ctx context.Context, css []coretypes.CsId) (map[coretypes.CsId][]byte, error) {
	u, err := r.Derived.Get(ctx, "changeset-info")
	if err != nil {
		return nil, err
	}
	return u.DeriveMany(ctx, css, r.Settings.PerRequestFanout)
}

// DeriveManyForBackfill derives typeName for a bulk batch of changesets,
// bounded by Settings.DerivationBufferedUnordered rather than the tighter
// PerRequestFanout, the way a backfill job is allowed more concurrent
// fan-out than a single interactive request.
func (r *Repo) DeriveManyForBackfill(ctx context.Context, typeName string, css []coretypes.CsId) (map[coretypes.CsId][]byte, error) {
	u, err := r.Derived.Get(ctx, typeName)
	if err != nil {
		return nil, err
	}
	return u.DeriveMany(ctx, css, r.Settings.DerivationBufferedUnordered)
}

// bonsaiReader implements derived.Repo by reading bonsai changesets back
// out of the blob store at a fixed key, the same place a real write path
// would have stored them when constructing a commit.
type bonsaiReader struct {
	blobs blobstore.Blobstore
}

func (b *bonsaiReader) GetBonsaiChangeset(ctx context.Context, cs coretypes.CsId) (*coretypes.BonsaiChangeset, error) {
	raw, ok, err := b.blobs.Get(ctx, "bonsai."+cs.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("engine: no bonsai changeset stored for %s", cs)
	}
	var bc coretypes.BonsaiChangeset
	if err := json.Unmarshal(raw, &bc); err != nil {
		return nil, fmt.Errorf("engine: corrupt bonsai changeset for %s: %w", cs, err)
	}
	return &bc, nil
}

func main() {
	dataDir := flag.String("data-dir", "", "override the data directory from engine.yaml/ENGINE_DATA_DIR")
	logJSON := flag.Bool("log-json", false, "emit structured JSON logs instead of the console format")
	dumpConfig := flag.Bool("dump-config", false, "print the effective settings as YAML and exit")
	flag.Parse()

	settings, err := config.LoadFromEnvOrDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: load config: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		settings.DataDir = *dataDir
	}
	if *logJSON {
		settings.LogJSON = true
	}

	if *dumpConfig {
		out, err := settings.DumpYAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "engine: dump config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	corelog.Init(corelog.Config{Level: corelog.Level(settings.LogLevel), JSON: settings.LogJSON})
	cc := corecontext.New(context.Background(), "engine", "")

	repo, err := Open(cc.Context(), settings)
	if err != nil {
		cc.Logger.Fatal().Err(err).Msg("failed to open repository")
	}
	defer repo.Close()

	cc.Logger.Info().
		Str("data_dir", settings.DataDir).
		Msg("engine repository opened")

	last, ok, err := repo.IdMap.GetLastEntry(cc.Context())
	if err != nil {
		cc.Logger.Fatal().Err(err).Msg("failed to read idmap tail")
	}
	if ok {
		cc.Logger.Info().Uint64("vid", uint64(last.Vid)).Str("cs_id", last.CsId.String()).Msg("idmap tail")
	} else {
		cc.Logger.Info().Msg("idmap is empty")
	}
}
