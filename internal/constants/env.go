// Package constants provides centralized definitions of constants used throughout the application
package constants

// Environment variable names
const (
	// EnvPort is the environment variable containing the HTTP listen port
	EnvPort = "PORT"

	// EnvLogLevel is the environment variable containing the log level
	EnvLogLevel = "LOG_LEVEL"

	// EnvSchemaDir is the environment variable containing the directory of
	// per-class validation schemas
	EnvSchemaDir = "SCHEMA_DIR"

	// EnvDocumentStoreRoot is the environment variable containing the root
	// directory documents are fetched from
	EnvDocumentStoreRoot = "DOCUMENT_STORE_ROOT"

	// EnvOpenAIAPIKey is the environment variable containing the OpenAI API key
	EnvOpenAIAPIKey = "OPENAI_API_KEY"

	// EnvOpenAIModel is the environment variable containing the OpenAI model name
	EnvOpenAIModel = "OPENAI_MODEL"

	// EnvGoogleProjectID is the environment variable containing the Google Cloud project
	EnvGoogleProjectID = "GOOGLE_PROJECT_ID"

	// EnvGoogleLocation is the environment variable containing the Document AI location
	EnvGoogleLocation = "GOOGLE_LOCATION"

	// EnvDocAIProcessorID is the environment variable containing the Document AI processor id
	EnvDocAIProcessorID = "DOCUMENT_AI_PROCESSOR_ID"

	// EnvServerAddress is the environment variable containing the API server
	// address used by the CLI
	EnvServerAddress = "DOCUFLOW_SERVER_ADDRESS"
)

// Database environment variable names
const (
	// EnvDBHost is the environment variable containing the database host
	EnvDBHost = "DB_HOST"
	// EnvDBPort is the environment variable containing the database port
	EnvDBPort = "DB_PORT"
	// EnvDBUser is the environment variable containing the database user
	EnvDBUser = "DB_USER"
	// EnvDBPassword is the environment variable containing the database password
	EnvDBPassword = "DB_PASSWORD"
	// EnvDBName is the environment variable containing the database name
	EnvDBName = "DB_NAME"
)
