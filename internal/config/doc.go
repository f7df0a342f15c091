// Package config loads the policyguard server configuration.
//
// Configuration is YAML. Values may reference environment variables as
// ${VAR} or ${VAR:-default}:
//
//	server:
//	  address: ":8080"
//	  readTimeout: 10s
//	logging:
//	  level: info
//	  format: json
//	authz:
//	  binding: deferred
//	identity:
//	  jwt:
//	    secret: ${JWT_SECRET}
//	policy:
//	  file: /etc/policyguard/policy.yaml
//	  watch: true
package config
