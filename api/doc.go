// Package api defines the wire types of the ChatRelay HTTP API.
//
// # API Overview
//
// ChatRelay exposes one resource, a chat inside an app:
//
//	GET  /api/apps/{appId}/chat/{chatId}         SSE event stream
//	GET  /api/apps/{appId}/chat/{chatId}/ws      WebSocket event stream
//	POST /api/apps/{appId}/chat/{chatId}         submit a turn
//	POST /api/apps/{appId}/chat/{chatId}/stop    stop generation
//	GET  /api/apps/{appId}/chat/{chatId}/status  session status
//
// A turn submitted while a stream is connected returns immediately with
// {"status":"streaming"} and its output arrives as events on the stream.
// Without a connected stream the turn runs synchronously and the response
// body carries the full completion.
//
// # Events
//
// Both transports carry the same events: connected, processing, chunk,
// error, done and stopped. SSE uses the event name as the SSE event field;
// WebSocket frames are JSON objects of the form {"event": ..., "data": ...}.
//
// # Authentication
//
// When JWT is configured, requests carry a bearer token whose subject and
// roles select the models the caller may use. Static API keys are accepted
// via the X-API-Key header.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
