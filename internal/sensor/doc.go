// Package sensor ties probes, the scheduler, and the delivery client
// together into the process that actually watches a network segment.
package sensor
