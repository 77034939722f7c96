// Package ctlplane implements the hostnet control plane.
//
// # Overview
//
// The control plane is a long-running privileged process that owns the
// backends and their checkpoints. Keeping checkpoints in one process is
// what lets "apply --no-commit" survive the CLI exiting: the rollback
// timer lives in the daemon, and a later "commit" or "rollback" from any
// shell resolves it.
//
// # Architecture
//
// The server exposes net/rpc over a Unix socket at /run/hostnet-ctl.sock.
//
//	hostnet apply → RPC Client → Unix Socket → RPC Server (root) → Applier → Kernel
//
// Documents cross the socket as JSON so that free-form extension keys
// survive gob. Failures cross as [RPCError] and are rebuilt into
// classified errors on the client, so exit codes do not depend on
// where the apply ran.
//
// # Key Types
//
//   - [Server]: RPC server wrapping an [applier.Applier]
//   - [Client]: RPC client used by the CLI
//   - [ControlPlaneClient]: Interface for mocking in tests
//
// # Adding New RPC Methods
//
//  1. Define request/reply types in types.go
//  2. Add method to Server in server.go
//  3. Add client method in client.go
//  4. Add interface method in client_interface.go
//  5. Add mock implementation in client_mock.go
//
// # Example
//
// Starting the server:
//
//	server := ctlplane.NewServer(app, logger)
//	if err := server.Start(ctlplane.GetSocketPath()); err != nil { ... }
//	defer server.Stop()
//
// Using the client:
//
//	client, err := ctlplane.NewClient(ctlplane.GetSocketPath())
//	res, err := client.Apply(ctx, desired, applier.DefaultApplyOptions())
package ctlplane
