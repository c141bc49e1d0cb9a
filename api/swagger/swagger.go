package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Classmark Sync Gateway",
        "description": "Batch reconciliation endpoint for offline-queued attendance marks",
        "version": "0.2.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Token issuance"},
        {"name": "Sync", "description": "Offline mark reconciliation"},
        {"name": "Reports", "description": "Day-sheet exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate and obtain an access token",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/attendance/sync": {
            "post": {
                "tags": ["Sync"],
                "summary": "Reconcile a batch of device-queued attendance marks",
                "description": "Each item is authorized and upserted independently; the response preserves per-item correspondence with request order.",
                "responses": {
                    "200": {"description": "Per-item results with synced/failed counts"},
                    "400": {"description": "Malformed batch"},
                    "401": {"description": "Missing or invalid token"}
                }
            }
        },
        "/attendance/marks": {
            "post": {
                "tags": ["Sync"],
                "summary": "Mark a single student's attendance (online path)",
                "responses": {
                    "200": {"description": "Record ID and created flag"},
                    "403": {"description": "Actor may not mark this class"},
                    "404": {"description": "Class or enrollment not found"}
                }
            }
        },
        "/attendance/status": {
            "get": {
                "tags": ["Sync"],
                "summary": "Authoritative per-student status for a class and date",
                "responses": {
                    "200": {"description": "Status map"}
                }
            }
        },
        "/classes/{id}/attendance/export": {
            "get": {
                "tags": ["Reports"],
                "summary": "Export a class day sheet as CSV or PDF",
                "responses": {
                    "200": {"description": "Rendered file"},
                    "403": {"description": "Teacher or admin role required"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "0.2.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http"},
	Title:            "Classmark Sync Gateway",
	Description:      "Batch reconciliation endpoint for offline-queued attendance marks",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
