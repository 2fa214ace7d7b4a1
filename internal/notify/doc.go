// Package notify turns detector callbacks into JSON events.
//
// Hub keeps a bounded history and fans events out to in-process
// subscribers such as WebSocket clients. Webhook queues events and POSTs
// them to an HTTP endpoint with bounded concurrency, retries with
// exponential backoff and optional HMAC-SHA256 signing.
//
// Both types implement kwd.KeyWordObserver and kwd.StateObserver and never
// block the caller.
package notify
