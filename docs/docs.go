// Package docs registers the OpenAPI description served at /swagger
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "email": "it@ydsf.org"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/donations": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Donations"],
                "summary": "Submit donation",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateDonationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/donations/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Donations"],
                "summary": "Get donation",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/programs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Programs"],
                "summary": "List programs",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/admin/donations": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "List donations",
                "parameters": [
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "program_id", "in": "query"},
                    {"type": "string", "name": "referral_code", "in": "query"},
                    {"type": "string", "name": "donor_name", "in": "query"},
                    {"type": "integer", "default": 20, "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/admin/donations/{id}/validate": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Validate payment",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "schema": {"$ref": "#/definitions/handlers.ValidatePaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/admin/donations/{id}/distribute": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Distribute donation",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "schema": {"$ref": "#/definitions/handlers.DistributeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/admin/donations/{id}/audit": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Donation audit trail",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/admin/donations/{id}/verify": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Verify donation on ledger",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/admin/sync/{id}/retry": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Retry ledger sync",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/admin/dashboard": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Dashboard"],
                "summary": "Dashboard",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/admin/reports/daily": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Daily report",
                "parameters": [{"type": "string", "name": "date", "in": "query"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        }
    },
    "definitions": {
        "handlers.CreateDonationRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "Ahmad Fauzi"},
                "phone": {"type": "string", "example": "081234567890"},
                "email": {"type": "string", "example": "ahmad@example.com"},
                "amount": {"type": "integer", "example": 250000},
                "type": {"type": "string", "example": "maal"},
                "payment_method": {"type": "string", "example": "transfer"},
                "program_id": {"type": "string", "example": "PROG-YDSF-2024-0001"},
                "referral_code": {"type": "string", "example": "REF001"}
            }
        },
        "handlers.ValidatePaymentRequest": {
            "type": "object",
            "properties": {
                "payment_reference": {"type": "string", "example": "TRF-20250314-0091"}
            }
        },
        "handlers.DistributeRequest": {
            "type": "object",
            "properties": {
                "recipient": {"type": "string", "example": "Panti Asuhan Al-Ikhlas"},
                "amount": {"type": "integer", "example": 150000}
            }
        },
        "response.Response": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {},
                "error": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Zakat Ledger API",
	Description:      "Zakat donation tracking with Hyperledger Fabric audit trail",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
