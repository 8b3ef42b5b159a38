// Package reaper periodically sweeps pkg/registry for sessions idle
// beyond their configured timeout and closes them, implementing spec.md
// §4.5. It is the only caller that force-closes sessions on the
// registry's behalf outside an explicit close_session request.
package reaper
