// Package probe collects raw network evidence on the sensor side.
//
// Each probe implements the Source interface and produces
// observations from one vantage point: an active TCP sweep with ARP
// and OUI enrichment, a deep nmap pass with service detection, a
// passive window over mDNS/SSDP/DHCP chatter, and an SNMP walk of
// the gateway's ARP table. Probes never fuse or interpret; scoring
// and classification happen server side.
package probe
