// Package docs Story Feed API
//
// Story Feed is a synchronization and hybrid filtering service for slide
// based story content: it keeps a client-held feed consistent against a
// remote query source, with instant local filtering and server-authoritative
// correction.
//
// swagger:meta
package docs

import "github.com/swaggo/swag"

// @title Story Feed API
// @version 1.0
// @description Feed synchronization and hybrid filtering engine

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

func init() {
	swag.Register(swag.Name, &swag.Spec{
		InfoInstanceName: "swagger",
		SwaggerTemplate:  docTemplate,
	})
}

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Story Feed API",
        "description": "Feed synchronization and hybrid filtering engine",
        "version": "1.0.0",
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        }
    },
    "host": "localhost:8080",
    "basePath": "/api/v1",
    "paths": {
        "/topics": {
            "get": {
                "produces": ["application/json"],
                "summary": "List configured topics",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/feeds/{topic}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Get the visible (filtered) feed for a topic",
                "parameters": [
                    {"name": "topic", "in": "path", "type": "string", "required": true},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Unknown topic"},
                    "503": {"description": "Feed unavailable, retryable"}
                }
            }
        },
        "/feeds/{topic}/info": {
            "get": {
                "produces": ["application/json"],
                "summary": "Snapshot freshness metadata",
                "parameters": [
                    {"name": "topic", "in": "path", "type": "string", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "No snapshot"}}
            }
        },
        "/feeds/{topic}/refresh": {
            "post": {
                "produces": ["application/json"],
                "summary": "Manual retry: full unfiltered re-sync",
                "parameters": [
                    {"name": "topic", "in": "path", "type": "string", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "503": {"description": "Still failing"}}
            }
        },
        "/feeds/{topic}/more": {
            "post": {
                "produces": ["application/json"],
                "summary": "Load the next feed page",
                "parameters": [
                    {"name": "topic", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Pagination disabled in degraded mode"}
                }
            }
        },
        "/feeds/{topic}/filters": {
            "get": {
                "produces": ["application/json"],
                "summary": "Active filter selection and confirmation state",
                "parameters": [
                    {"name": "topic", "in": "path", "type": "string", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/feeds/{topic}/filters/toggle": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Toggle one filter term",
                "parameters": [
                    {"name": "topic", "in": "path", "type": "string", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {
                        "type": "object",
                        "properties": {
                            "category": {"type": "string", "enum": ["keyword", "landmark", "organization", "source"]},
                            "term": {"type": "string"}
                        }
                    }}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad category or term"}}
            }
        },
        "/feeds/{topic}/filters/clear": {
            "post": {
                "produces": ["application/json"],
                "summary": "Clear all filters",
                "parameters": [
                    {"name": "topic", "in": "path", "type": "string", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`
