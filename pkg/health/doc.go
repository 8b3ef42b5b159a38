// Package health provides TCPChecker, a dial-with-timeout probe of a
// single address. pkg/registry uses it to poll a freshly started
// persistent session's evaluator port before handing the session back
// to a caller, so a session is never considered live until its R
// process has actually started listening.
package health
