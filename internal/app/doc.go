// Package app wires the staff scheduling backend together and owns its
// lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from environment and config.yaml
//	2. Initialize logging and OpenTelemetry
//	3. Open the SQLite database and apply migrations
//	4. Build the license engine, fingerprint manager and services
//	5. Mount middleware and routes on a chi router
//	6. Bind the listener and run a startup license evaluation
//
// # Usage
//
//	application, err := app.NewApplication(ctx)
//	if err != nil {
//	    return err
//	}
//	return application.Run()
//
// Tests use New with WithClock and WithVerifier to pin time and replace the
// external verifier executable.
//
// # Graceful Shutdown
//
// SIGINT and SIGTERM drain in-flight requests within
// Server.ShutdownTimeout, then close the database and flush telemetry.
package app
