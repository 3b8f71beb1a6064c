// Package adapter turns inbound HTTP activity requests into routed turns.
//
// # Request handling
//
// Adapter validates the request (method, content type, activity shape and
// caller identity), builds a turn.Context and runs the single
// highest-priority matching route from a routing.Table. How replies leave
// the process depends on the delivery mode:
//
//   - normal: each reply is forwarded to the channel through an Outbound
//     (the connector client) and the request is answered 202 Accepted.
//   - expectReplies: replies are buffered and returned as
//     {"activities": [...]} with 200 OK.
//   - invoke: replies are buffered; the invokeResponse activity supplies the
//     status and body. An invoke handler that never sends one is a handler
//     bug and is answered 500.
//
// # Sign-in
//
// Before routing, a message or signin/* invoke from a user with a sign-in in
// progress is treated as a reply to that sign-in. When the flow completes,
// the activity that started it is replayed through the route table in the
// same turn. Routes that name auth handlers only run once every handler
// reports a completed sign-in.
//
// # Errors
//
// Transport problems are answered with a JSON error body. A failing handler
// is reported to Options.OnTurnError once and the user gets a best-effort
// fallback message; the request still succeeds unless OnTurnError itself
// fails.
package adapter
