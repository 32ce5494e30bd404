package action

import (
	"context"

	"github.com/hostplane/provision/internal/config"
	"github.com/hostplane/provision/internal/hostfacts"
	"github.com/hostplane/provision/internal/model"
)

// Request bundles everything an action needs for one probe or apply call:
// the catalog entry, the live host snapshot, and the resolved parameters.
type Request struct {
	Spec   *config.ActionSpec
	Facts  *hostfacts.Facts
	Params map[string]string
}

// Metadata describes an action implementation's identity.
type Metadata struct {
	Name        string
	Type        string
	Version     string
	Description string
}

// Action defines the contract every provisioning action type must satisfy.
//
// Implementations should:
//   - Return identity via ActionMetadata()
//   - Provide their configuration schema via Schema()
//   - Implement read-only state assessment via Probe()
//   - Implement idempotent state mutation via Apply()
type Action interface {
	// ActionMetadata returns the action type's identity.
	ActionMetadata() Metadata

	// Schema returns the struct defining this action type's catalog
	// configuration, used for documentation and schema generation.
	Schema() any

	// Probe performs a STRICTLY READ-ONLY assessment of the host's current
	// state against the target state in the request. It must be safe to
	// call repeatedly and must inspect the live host, never engine
	// bookkeeping.
	//
	// Returns a ProbeResult classifying the state (Present, Absent,
	// Partial) or an error (typically a ProbeError) when the host could
	// not be queried.
	Probe(ctx context.Context, req *Request) (*model.ProbeResult, error)

	// Apply mutates the host to match the target state. Only called when
	// Probe reported Absent or Partial. Apply must be idempotent: re-running
	// it with no external interference succeeds and leaves the host in the
	// same end state. When the probe reported Partial, Apply reconciles
	// from whatever is there rather than assuming a clean slate.
	//
	// The probe parameter carries the preceding ProbeResult, including any
	// InternalData, to avoid recomputation.
	Apply(ctx context.Context, req *Request, probe *model.ProbeResult) (*model.ActionResult, error)
}
