// Package transport defines what the updater needs from a bus connection.
//
// The Transport interface is implemented by bus gateways (see package
// transport/gateway for a serial one) and by test doubles. Errors are
// reported with the sentinel values in this package so that the command
// channel can classify them with errors.Is.
package transport
