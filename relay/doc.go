// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package relay connects chat sessions to upstream model requests.

A client registers a Transport for a chatId (an SSE response or a
WebSocket). Turns submitted for that chat are resolved against the
ModelCatalog, built through llm.Registry and streamed back as wire events:

	connected{chatId}
	processing{}
	chunk{content} ...
	done{finishReason, toolCalls} | error{message, code, kind, recommendation}
	stopped{message}

Each chat has at most one in-flight CancellableRequest. A new turn cancels
the previous request with ErrSuperseded and waits for its worker to exit
before dialing out. Stop, supersede and disconnect silence a request: once
Cancel returns, no event from it reaches the transport. A request that
exceeds RequestTimeout ends with exactly one TimeoutError event and the
session stays usable.

Turns submitted while no transport is registered run synchronously through
Complete.
*/
package relay
