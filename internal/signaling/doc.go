// Package signaling is the server half of session negotiation: clients POST
// an offer with their candidates and receive an answer, the server's
// candidates and a session id that DELETE /signal later closes.
package signaling
