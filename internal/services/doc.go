// Package services implements the business logic layer between HTTP handlers
// and the license engine.
//
// # Available Services
//
//	- LicenseService: activation, status, record administration, export and
//	  the machine identifier shown to operators
//	- HealthService: liveness, readiness and version information
//
// Services depend on small interfaces (LicenseEngine, MachineIdentifier,
// RecordExporter, Pinger) so handlers and tests can swap implementations.
// Domain errors from internal/license are returned unchanged; the transport
// layer maps them to problem details.
package services
