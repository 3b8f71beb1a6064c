// Package connector delivers outbound activities to the channel that sent
// the inbound one.
//
// Replies for normal delivery mode are not returned in the HTTP response.
// Instead the host posts each activity to
//
//	{serviceUrl}/v3/conversations/{conversationId}/activities/{replyToId}
//
// using a bearer token from a TokenProvider, typically the client
// credentials provider in package authflow.
package connector
