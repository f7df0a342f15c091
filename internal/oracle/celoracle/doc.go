// Package celoracle implements a decision oracle on top of the Common
// Expression Language.
//
// Each policy is a boolean CEL expression over the variables subject,
// action, resource and now:
//
//	policies:
//	  - name: read-ok
//	    expression: action == "GET" && resource.startsWith("/ok")
//	  - name: admins
//	    expression: '"admin" in subject.roles'
//	  - name: no-deletes
//	    expression: action == "DELETE"
//	    effect: deny
//	    priority: 100
//
// Policies are evaluated by descending priority and the first match wins.
// A glob(pattern, value) helper is available for path.Match style checks.
package celoracle
