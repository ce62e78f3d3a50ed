// Package system wires the processing subsystems into a single facade:
// processor registry, event bus, resource monitor, host sampler, worker
// pool, progress tracker, processor monitoring, checkpoint store, pipeline
// manager, and the notification observer. Hosts construct a System from
// configuration, start it, and drive pipelines through Manager.
package system
