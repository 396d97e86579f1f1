// Package testutil contains builders used across tests to construct tasks,
// agent identities and scripted model replies with little boilerplate. It
// is not intended for production use.
package testutil
