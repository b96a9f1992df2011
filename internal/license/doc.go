// Package license implements license validation and activation for the
// scheduling backend.
//
// # Components
//
//	- ProcessVerifier: runs the external signature verifier on a license artifact
//	- Engine: activation (verify then persist) and the evaluation pass
//	- Store: persistence contract implemented by internal/db/repository
//
// # Status Lifecycle
//
// Every stored Record moves forward only:
//
//	valid -> active -> expired
//
// A valid record is promoted to active the first time an evaluation pass finds
// the current instant inside its window. Any valid or active record whose end
// day has passed in its own region is marked expired. Expired is terminal.
//
// # Evaluation
//
// EvaluateActiveLicense scans the stored records in insertion order and returns
// the first one that is currently in effect. The scan is pull-based: callers
// that need a verdict (the license gate, the status endpoint) run it on demand.
// Read failures degrade to "no active license" rather than an error.
//
// # Activation
//
// Activate hands the public key and artifact to the verifier. Verifier failures
// are returned unchanged. A valid verdict is upserted as a Record keyed by its
// window; a failed write is logged and reported through ActivationResult but
// does not fail the activation.
package license
