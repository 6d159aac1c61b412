// Package library applies mutations to the collection and its static
// playlists.
//
// Every mutation is committed to the store first. Only after the commit
// succeeds is the corresponding event handed to the Sink, so a consumer
// that reads the store in response to an event always sees the change.
// Mutations that turn out to be no-ops (adding an item that is already
// in a playlist, removing an id that does not exist) emit nothing.
package library
