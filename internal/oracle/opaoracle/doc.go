// Package opaoracle implements oracle.Oracle by querying an Open Policy
// Agent server. Each decision is a POST to /v1/data/<policy> with
//
//	{"input": {"subject": {...}, "action": "GET", "resource": "/ok/x"}}
//
// and the result may be a bare boolean or an object with allow and reason
// fields. Failed queries are retried with exponential backoff and a
// circuit breaker stops hammering an unhealthy server.
package opaoracle
