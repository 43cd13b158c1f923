// Package docs registers the swagger document served at /swagger/*any.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {"tags": ["health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}
        },
        "/readyz": {
            "get": {"tags": ["health"], "summary": "Readiness check", "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}
        },
        "/api/v1/strategies/{id}/runs": {
            "post": {
                "tags": ["workflow"],
                "summary": "Trigger a workflow run",
                "description": "Prepares the run synchronously and finishes it in the background.",
                "parameters": [{"type": "string", "description": "strategy id", "name": "id", "in": "path", "required": true}],
                "responses": {"202": {"description": "Accepted"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}
            },
            "get": {
                "tags": ["workflow"],
                "summary": "List workflow runs for a strategy",
                "parameters": [
                    {"type": "string", "description": "strategy id", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "pending|running|completed|failed", "name": "status", "in": "query"},
                    {"type": "integer", "description": "page size", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "offset", "name": "offset", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/strategies/{id}/budget": {
            "get": {
                "tags": ["workflow"],
                "summary": "Current budget snapshot for a strategy",
                "parameters": [{"type": "string", "description": "strategy id", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/v1/strategies/{id}/predictions": {
            "get": {
                "tags": ["workflow"],
                "summary": "List predictions for a strategy",
                "parameters": [
                    {"type": "string", "description": "strategy id", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "active|completed|cancelled", "name": "status", "in": "query"},
                    {"type": "string", "description": "pending|entered|skipped", "name": "action", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/runs/{id}": {
            "get": {
                "tags": ["workflow"],
                "summary": "Get a workflow run",
                "parameters": [{"type": "string", "description": "run id", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/v1/runs/{id}/stream": {
            "get": {
                "tags": ["workflow"],
                "summary": "Stream workflow run status over a websocket",
                "parameters": [{"type": "string", "description": "run id", "name": "id", "in": "path", "required": true}],
                "responses": {"101": {"description": "Switching Protocols"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/v1/runs/reap": {
            "post": {"tags": ["workflow"], "summary": "Fail stale running runs now", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/workflow/prepare-data": {
            "post": {
                "tags": ["workflow"],
                "summary": "Prepare strategy data for an external workflow engine",
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}
            }
        },
        "/api/v1/workflow/predictions": {
            "post": {
                "tags": ["workflow"],
                "summary": "Materialize predictions from external workflow output",
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "422": {"description": "Unprocessable Entity"}}
            }
        },
        "/api/v1/schedules": {
            "get": {"tags": ["scheduler"], "summary": "List registered schedules", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/schedules/{key}/run": {
            "post": {
                "tags": ["scheduler"],
                "summary": "Run a registered schedule now",
                "parameters": [{"type": "string", "description": "schedule key", "name": "key", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "Stock Advisor API",
	Description:      "Strategy workflow runs, predictions and budget.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
