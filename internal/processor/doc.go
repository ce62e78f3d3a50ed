// Package processor defines the contract document processors implement and
// the registry hosts register them in.
//
// A processor receives a Context describing one document plus the results of
// its upstream stages and returns a Result. Cancellation and deadlines arrive
// through the context.Context; processors that respect it get clean pipeline
// suspension for free. Optional capabilities (logger injection, health
// checks) are discovered by interface assertion so trivial processors stay
// trivial.
package processor
