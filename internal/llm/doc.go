// Package llm provides an OpenAI-compatible chat client for the subtitle
// optimizer and the llm translation backend.
//
// # Configuration
//
// Requires api_key and model, optionally base_url and timeout. base_url is
// the full chat completions endpoint, so self-hosted gateways work unchanged.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSON: send system/user prompts, receive JSON response.
// Client.CompleteJSONInto: CompleteJSON plus tolerant decoding into a value.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// The client retries HTTP 408/429/5xx, empty replies and network timeouts
// through cenkalti/backoff: exponential delays (base 1s, max 10s, up to 5
// attempts by default), with a Retry-After header replacing the next delay.
// Other failures are permanent. Context cancellation aborts retries
// immediately.
package llm
