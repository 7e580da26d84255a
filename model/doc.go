// Package model defines the provider-agnostic model invocation capability
// consumed by the debate router.
//
// Core goals:
//   - One synchronous Generate contract per provider ({text|structured object,
//     cost, tokens} out, ProviderError on failure)
//   - Explicit Registry instead of process-global provider maps, constructed
//     once at startup and passed by reference into the router
//   - Lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (router, engine) remain decoupled from vendor SDKs.
package model
