// Package casbinoracle adapts a casbin enforcer to the oracle.Oracle
// interface. Requests are enforced as (subject, resource, action); the
// subject's roles are tried after the subject itself.
//
//	casbin:
//	  policy: |
//	    p, _actor, /ok/*, GET
//	    p, admin, /*, *
//	    g, alice, admin
package casbinoracle
