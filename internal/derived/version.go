package derived

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/mod/semver"

	"github.com/scmcore/engine/internal/blobstore"
)

// ErrIncompatibleSchema is returned (wrapped) by CheckSchemaVersion when a
// mapping's recorded schema major version differs from the version the
// running build expects.
var ErrIncompatibleSchema = errors.New("derived: incompatible schema version")

// CheckSchemaVersion refuses to run a DerivedUtils for typeName against
// a mapping store whose recorded schema version has a different major
// component than wantVersion, since a mapping written by an incompatible
// major version cannot be trusted to mean the same thing.
//
// The recorded version lives in the blob store at a fixed per-type key; a
// first run with no recorded version writes wantVersion and succeeds.
func CheckSchemaVersion(ctx context.Context, blobs blobstore.Blobstore, typeName, wantVersion string) error {
	if !semver.IsValid(wantVersion) {
		return fmt.Errorf("derived: %s: invalid schema version %q", typeName, wantVersion)
	}

	key := "derived.schema_version." + typeName
	got, ok, err := blobs.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("derived: %s: read schema version: %w", typeName, err)
	}
	if !ok {
		return blobs.Put(ctx, key, []byte(wantVersion))
	}

	recorded := string(got)
	if !semver.IsValid(recorded) {
		return fmt.Errorf("derived: %s: recorded schema version %q is not valid semver", typeName, recorded)
	}
	if semver.Major(recorded) != semver.Major(wantVersion) {
		return fmt.Errorf("derived: %s: mapping was written by schema %s, this build wants %s: %w",
			typeName, recorded, wantVersion, ErrIncompatibleSchema)
	}
	return nil
}
