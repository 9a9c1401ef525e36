// Package relay pushes live/offline status for a Twitch channel to a single
// WebSocket client.
//
// Each connection gets its own Session which polls Helix on a fixed interval,
// only notifies the client when the computed status changes, refreshes the app
// credential every RefreshTicks polls and after three consecutive failed polls,
// and backs off exponentially (5s doubling up to 60s) while Helix is failing.
// A Registry keeps one entry per channel key so a session can be found and
// cleaned up; it is not a fan-out hub.
package relay
