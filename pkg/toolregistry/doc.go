// Package toolregistry holds the set of configured command-line tools and
// runs them on request.
//
// An invocation validates its arguments against the tool's input schema,
// builds the argument vector with argmap, runs the command through a Runner
// and normalizes the outcome into content items or one of the package's
// error kinds. Each invocation owns its child process; the registry itself
// is only read while a call is in flight.
package toolregistry
