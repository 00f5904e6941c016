// Package config loads cliaas configuration.
//
// Configuration comes from a YAML file read through viper, with two layers
// of overrides applied on top:
//
//   - ${VAR} and ${VAR:-default} references in the file are replaced with
//     environment values before parsing.
//   - Any scalar setting can be overridden with a CLIAAS_ environment
//     variable named after its path, for example CLIAAS_SYNC_INTERVAL=10m
//     or CLIAAS_STORE_DRIVER=postgres.
//
// Connector credentials live under connectors.<name>. A credential key can
// also be supplied as CLIAAS_<CONNECTOR>_<KEY>, for example
// CLIAAS_ZENDESK_API_TOKEN or CLIAAS_ZOHO_DESK_REFRESH_TOKEN.
//
// # Usage
//
//	cfg, err := config.Load("cliaas.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	engine := syncengine.New(registry.Default(), cfg)
package config
