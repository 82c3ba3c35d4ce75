// Package bootstrap resolves the control service's connection parameters and
// opens the loopback socket the protocol engine runs on.
//
// Parameters come either from explicit values (one attempt) or from the
// handshake file the service publishes once it is listening. Because the
// service may still be starting, file-based resolution retries with a fixed
// backoff and reports the last error once the attempt budget is spent.
package bootstrap
