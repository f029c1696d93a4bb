// Package capture implements the frame source of a camera-to-texture pipeline.
//
// A [Source] drives a platform [Backend] through the session lifecycle
//
//	Uninitialized → AuthorizationPending → Configuring → Running ⇄ Suspended → TornDown
//
// Session configuration (authorization, device discovery, session assembly,
// start and stop) runs on a dedicated serial goroutine so callers are never
// blocked by hardware negotiation. Frames are handed to registered observers on a
// second goroutine. That goroutine keeps only the newest undelivered frame: a
// frame arriving while the previous one is still being processed replaces it and
// is counted as dropped.
//
// Frames are valid for the duration of [Observer.OnFrameDelivered]. Call
// [Frame.Retain] to keep one longer and [Frame.Release] when done.
package capture
