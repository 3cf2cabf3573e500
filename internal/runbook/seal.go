package runbook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sealNamespace is the fixed namespace UUID content-addressed runbook
// ids are derived under via uuid.NewSHA1, so two runbooks with
// byte-identical cores always collide on the same id, and two runbooks
// differing anywhere in the core never do.
var sealNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Seal freezes a compiled step list and envelope core into an
// immutable CompiledRunbook, deriving its Id deterministically from
// the envelope core and step contents. SealedAt is stamped after
// hashing and explicitly excluded from the hash input, so two compiles
// that differ only by wall-clock time still collide on the same Id.
// macroAudits carries the full (non-hashed) expansion audit trail;
// only its digests, already folded into core.MacroAuditDigests by the
// caller, feed the hash.
func Seal(sessionID string, steps []CompiledStep, core ReplayEnvelopeCore, snapshotSetID string, version uint64, macroAudits []MacroExpansionAudit) (*CompiledRunbook, error) {
	digest, err := hashInput(sessionID, steps, core, snapshotSetID, version)
	if err != nil {
		return nil, fmt.Errorf("hashing runbook core: %w", err)
	}
	id := NewId(uuid.NewSHA1(sealNamespace, digest))

	return &CompiledRunbook{
		Id:            id,
		SessionID:     sessionID,
		Version:       version,
		Steps:         steps,
		SnapshotSetID: snapshotSetID,
		Envelope: ReplayEnvelope{
			Core:                 core,
			MacroExpansionAudits: macroAudits,
			SealedAt:             time.Now(),
		},
		Status:    Status{Kind: StatusCompiled},
		CreatedAt: time.Now(),
	}, nil
}

// hashInput renders the deterministic byte sequence that Seal hashes:
// session id, version, snapshot manifest (sorted by object id),
// ordered entity bindings, sorted digest lists, then each step in
// final topological order (verb, mode, sorted args and sorted
// depends_on ids; the step's own StepID and AsBinding are not hashed).
func hashInput(sessionID string, steps []CompiledStep, core ReplayEnvelopeCore, snapshotSetID string, version uint64) ([]byte, error) {
	h := sha256.New()
	fmt.Fprintf(h, "session:%s\nversion:%d\nsnapshot_set:%s\n", sessionID, version, snapshotSetID)

	objectIDs := make([]string, 0, len(core.SnapshotManifest))
	for k := range core.SnapshotManifest {
		objectIDs = append(objectIDs, k)
	}
	sort.Strings(objectIDs)
	for _, id := range objectIDs {
		fmt.Fprintf(h, "manifest:%s=%s\n", id, core.SnapshotManifest[id])
	}

	fmt.Fprintf(h, "cursor:%d\n", core.SessionCursor)
	for _, b := range core.EntityBindings {
		fmt.Fprintf(h, "binding:%s=%s\n", b.Name, b.UUID.String())
	}
	for _, d := range core.ExternalLookupDigests {
		fmt.Fprintf(h, "lookup:%s\n", d)
	}
	for _, d := range core.MacroAuditDigests {
		fmt.Fprintf(h, "macro:%s\n", d)
	}

	for _, s := range steps {
		fmt.Fprintf(h, "step:%s:%s\n", s.VerbFQN, s.ExecutionMode)
		for _, k := range s.ArgKeys() {
			fmt.Fprintf(h, "  arg:%s=%s\n", k, s.Args[k])
		}
		deps := make([]string, 0, len(s.DependsOn))
		for _, d := range s.DependsOn {
			deps = append(deps, d.String())
		}
		sort.Strings(deps)
		fmt.Fprintf(h, "  deps:%s\n", strings.Join(deps, ","))
	}

	return h.Sum(nil), nil
}

// digestHex is a small helper shared with compiler-stage callers that
// need to reduce an external lookup or macro expansion to the hex
// digest the envelope core stores.
func digestHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestString reduces arbitrary content to the envelope's digest form.
func DigestString(s string) string { return digestHex([]byte(s)) }
