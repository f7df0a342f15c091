// Package policy loads policy documents and keeps an oracle.Holder serving
// the oracle they describe.
//
// A document names its engine and carries that engine's section:
//
//	engine: cel
//	cel:
//	  policies:
//	    - name: read-ok
//	      expression: action == "GET" && resource.startsWith("/ok")
//
// Documents come from a file, optionally watched with fsnotify, or from a
// Redis key with reloads signalled over pub/sub. Every successful load
// swaps a new versioned handle into the holder; failures keep the old one.
package policy
