// Package accounts holds the Swagger document served at /swagger/.
// Regenerate with: swag init -g internal/accounts/http/router.go -o api/accounts
package accounts

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "AussieBroadWAN Team",
            "url": "https://github.com/aussiebroadwan/accounts"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/auth/register": {
            "post": {
                "tags": ["Auth"],
                "summary": "Register an account",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/accountsdk.RegisterRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/accountsdk.AccountResponse"}},
                    "400": {"description": "Invalid email or weak password", "schema": {"$ref": "#/definitions/accountsdk.ErrorResponse"}},
                    "409": {"description": "Email already registered", "schema": {"$ref": "#/definitions/accountsdk.ErrorResponse"}}
                }
            }
        },
        "/v1/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Log in",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/accountsdk.LoginRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/accountsdk.LoginResponse"}},
                    "401": {"description": "Invalid credentials or second factor required", "schema": {"$ref": "#/definitions/accountsdk.ErrorResponse"}},
                    "409": {"description": "Too many active sessions", "schema": {"$ref": "#/definitions/accountsdk.ErrorResponse"}},
                    "423": {"description": "Account locked, see Retry-After", "schema": {"$ref": "#/definitions/accountsdk.ErrorResponse"}}
                }
            }
        },
        "/v1/auth/login/second-factor": {
            "post": {
                "tags": ["Auth"],
                "summary": "Log in with a second factor",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/accountsdk.SecondFactorLoginRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/accountsdk.LoginResponse"}},
                    "401": {"description": "Invalid credentials or code", "schema": {"$ref": "#/definitions/accountsdk.ErrorResponse"}}
                }
            }
        },
        "/v1/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate a refresh token",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/accountsdk.RefreshRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/accountsdk.TokenResponse"}},
                    "401": {"description": "Invalid, expired or revoked refresh token", "schema": {"$ref": "#/definitions/accountsdk.ErrorResponse"}}
                }
            }
        },
        "/v1/auth/logout": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Auth"],
                "summary": "Log out",
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/v1/sessions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "List active sessions",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/accountsdk.SessionListResponse"}}}
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Sign out every other device",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/accountsdk.TerminatedResponse"}}}
            }
        },
        "/v1/sessions/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Sign out a device",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/accountsdk.ErrorResponse"}}}
            }
        },
        "/.well-known/jwks.json": {
            "get": {
                "tags": ["well-known"],
                "summary": "Get JWKS",
                "responses": {"200": {"description": "The JSON Web Key Set"}}
            }
        },
        "/livez": {
            "get": {
                "tags": ["Health"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/accountsdk.HealthResponse"}}}
            }
        },
        "/readyz": {
            "get": {
                "tags": ["Health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/accountsdk.HealthResponse"}},
                    "503": {"description": "Not ready", "schema": {"$ref": "#/definitions/accountsdk.HealthResponse"}}
                }
            }
        }
    },
    "definitions": {
        "accountsdk.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "error_description": {"type": "string"}}
        },
        "accountsdk.RegisterRequest": {
            "type": "object",
            "properties": {"email": {"type": "string"}, "username": {"type": "string"}, "password": {"type": "string"}}
        },
        "accountsdk.AccountResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "email": {"type": "string"},
                "username": {"type": "string"},
                "role": {"type": "string"},
                "email_verified": {"type": "boolean"},
                "second_factor_enabled": {"type": "boolean"},
                "locked_until": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "accountsdk.LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "remember_me": {"type": "boolean"},
                "screen_resolution": {"type": "string"},
                "timezone": {"type": "string"},
                "language": {"type": "string"}
            }
        },
        "accountsdk.SecondFactorLoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "remember_me": {"type": "boolean"},
                "code": {"type": "string"}
            }
        },
        "accountsdk.TokenResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "refresh_token": {"type": "string"},
                "token_type": {"type": "string"},
                "expires_in": {"type": "integer"}
            }
        },
        "accountsdk.LoginResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "refresh_token": {"type": "string"},
                "token_type": {"type": "string"},
                "expires_in": {"type": "integer"},
                "session_id": {"type": "string"},
                "risk": {
                    "type": "object",
                    "properties": {
                        "score": {"type": "integer"},
                        "confidence": {"type": "number"},
                        "factors": {"type": "array", "items": {"type": "string"}},
                        "escalated": {"type": "boolean"}
                    }
                }
            }
        },
        "accountsdk.RefreshRequest": {
            "type": "object",
            "properties": {"refresh_token": {"type": "string"}}
        },
        "accountsdk.SessionListResponse": {
            "type": "object",
            "properties": {
                "sessions": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "id": {"type": "string"},
                            "device_name": {"type": "string"},
                            "ip": {"type": "string"},
                            "remember_me": {"type": "boolean"},
                            "current": {"type": "boolean"},
                            "created_at": {"type": "string"},
                            "last_activity_at": {"type": "string"},
                            "expires_at": {"type": "string"}
                        }
                    }
                }
            }
        },
        "accountsdk.TerminatedResponse": {
            "type": "object",
            "properties": {"terminated": {"type": "integer"}}
        },
        "accountsdk.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "uptime": {"type": "string"},
                "version": {"type": "string"},
                "checks": {"type": "object", "properties": {"database": {"type": "string"}, "signer": {"type": "string"}}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "JWT access token. Format: \"Bearer {token}\".",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Accounts Service API",
	Description:      "Account authentication with device-bound sessions, TOTP second factor and risk scoring.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
