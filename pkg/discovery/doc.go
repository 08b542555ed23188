// Package discovery implements mDNS/DNS-SD discovery for gridpulse publishers.
//
// Publishers advertise a single service:
//
// # Publisher Discovery (_gridpulse._tcp)
//
// Instance name is the publisher name. The port is the command channel port.
// TXT records include: ver (protocol version, "major.minor"), name (publisher
// name) and enc (command channel security, "tls" or "none").
//
// Subscribers browse for the service and connect to one of the advertised
// addresses. Entries whose protocol version has a different major version
// are skipped.
package discovery
