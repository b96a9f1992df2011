// Package http implements the HTTP handlers of the staff scheduling backend.
// Handlers stay thin: they decode requests, call the services layer and render
// responses. Every failure goes through errors.ErrorHandler so clients always
// receive RFC 7807 problem details carrying a code and a trace_id.
//
// # Routes
//
//	POST   /api/license/activate   verify an uploaded key and license pair
//	GET    /api/license/status     run an evaluation pass
//	GET    /api/license            list stored records
//	POST   /api/license            create a record by hand
//	DELETE /api/license            delete records by id
//	GET    /api/license/export     download records as csv or xlsx
//	GET    /api/machine-id         identifier licenses are issued for
//	POST   /api/schedule/generate  roster generation, behind the license gate
//	POST   /api/logs               client side log forwarding
//
// Health and version endpoints live under /api/health and /api/version.
//
// # Activation uploads
//
// Activation accepts either multipart/form-data with public_key and license
// file parts, or a JSON body carrying both as base64. Key material is never
// logged and never echoed back in error responses.
package http
