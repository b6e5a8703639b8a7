package config

// EnvPrefix is the namespace applied by envconfig processing.
const EnvPrefix = "MERCANTA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "MERCANTA_DB_DSN"
	EnvDBHost = "MERCANTA_DB_HOST"
	EnvDBUser = "MERCANTA_DB_USER"
	EnvDBName = "MERCANTA_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
