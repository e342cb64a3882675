// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openai implements the transport client for OpenAI-compatible
// chat-completion endpoints.
//
// The client speaks the /chat/completions wire protocol: JSON request
// bodies with a model identifier, a message list and sampling options,
// authenticated with a bearer key. Responses are either a single JSON
// object (blocking mode) or a Server-Sent-Events stream of delta
// fragments terminated by a [DONE] sentinel (streaming mode).
//
// The package owns exactly one network call at a time per invocation and
// nothing else: no conversation state, no rendering, no persistence.
// Cancellation is driven entirely through the caller's context.
package openai
