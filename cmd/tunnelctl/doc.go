// Package main hosts the tunnelctl CLI entrypoint and command graph.
//
// Every command resolves configuration, opens one connection to the control
// service through the bootstrap package, performs the hello exchange, and
// then issues its requests through an ipc.Client. Commands that need ranked
// servers attach a servers.Aggregator before the hello so the initial
// catalog and first ping round are observed.
//
// Keep this package thin: protocol behaviour belongs in internal/ipc and
// ranking in internal/servers.
package main
