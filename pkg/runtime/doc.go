/*
Package runtime is the narrow, testable facade over containerd: create,
start, stop, remove, inspect, exec, and archive put/get, with the fixed
security profile
(non-root UID, read-only rootfs, dropped capabilities, no-new-privileges,
tmpfs for writable paths, resource caps) applied at Create time.

The adapter is stateless across calls except for the host-port mappings
it installs for persistent-evaluator sessions (pkg/runtime/ports.go),
which it tears down on Remove. All session bookkeeping — identifiers,
last-use timestamps, concurrency accounting — lives in pkg/registry, not
here; this package only ever talks to containerd and the host network
stack.

Everything above this package depends on the Runtime interface, never
on *ContainerdRuntime directly, so pkg/runtime/runtimetest.Fake can
stand in during tests without a running containerd daemon.
*/
package runtime
