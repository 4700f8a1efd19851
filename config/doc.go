// Package config loads the broker configuration.
//
// Configuration is YAML. A Loader starts from DefaultConfig, deep-merges each
// file layer in order and then applies SEMSUB_* environment overrides:
//
//	loader := config.NewLoader()
//	loader.AddLayer("semsub.yaml")
//	loader.AddLayer("semsub.production.yaml") // overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Only keys present in a layer override earlier values, so a layer may
// hold a single setting:
//
//	endpoint:
//	  host: blazegraph.internal
//	  port: 9999
//
// # Environment Overrides
//
//	SEMSUB_GATEWAY_LISTEN_ADDRESS  gateway.listen_address
//	SEMSUB_ENDPOINT_HOST           endpoint.host
//	SEMSUB_ENDPOINT_PORT           endpoint.port
//	SEMSUB_ENDPOINT_USERNAME       endpoint.username
//	SEMSUB_ENDPOINT_PASSWORD       endpoint.password
//	SEMSUB_SECURITY_SECRET         security.secret
//	SEMSUB_NATS_URLS               nats.urls (comma separated)
//	SEMSUB_NATS_TOKEN              nats.token
//	SEMSUB_LOG_LEVEL               log.level
//
// The loaded Config is read-only for the rest of the broker. SafeConfig
// wraps it for callers that share it across goroutines.
//
// # File Safety
//
// Config files are size limited, must be regular files with a .yaml, .yml
// or .json extension, and relative paths may not escape the working
// directory.
package config
