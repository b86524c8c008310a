// Package config loads and validates orbit's configuration.
//
// # Usage
//
//	cfg, err := config.Load("orbit.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Load starts from Default(), so a file only lists what it overrides.
//
// # Environment Variable Substitution
//
// ${VAR_NAME} is replaced with the variable's value before parsing, and
// ${VAR_NAME:-fallback} uses the fallback when the variable is unset:
//
//	store:
//	  driver: postgres
//	  postgres:
//	    dsn: ${ORBIT_POSTGRES_DSN}
//	api:
//	  listen: ${ORBIT_LISTEN:-:8080}
//
// Secrets never belong in the file itself: connectors carry a
// credential_ref such as "env:CRM" that the secrets resolver expands at
// adapter construction time.
//
// # Connectors and Schedules
//
// The connectors and schedules sections bootstrap the registry and the
// scheduler at startup:
//
//	connectors:
//	  - id: crm
//	    family: rest
//	    active: true
//	    categories: [contacts]
//	    credential_ref: env:CRM
//	    options:
//	      base_url: https://crm.example.com/api
//	      auth: bearer
//	schedules:
//	  - id: nightly-contacts
//	    connector_id: crm
//	    categories: [contacts]
//	    frequency: daily
//	    time_of_day: "02:30"
//	    enabled: true
package config
