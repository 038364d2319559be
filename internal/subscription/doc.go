// Package subscription keeps device state current without hammering the
// vendor cloud.
//
// Devices announce most transitions on their own through push
// notifications, but pushes are best-effort: a device that reboots, drops
// off WiFi, or simply never pushes a section (electricity is poll-only)
// leaves the cache stale. Each subscription therefore runs one ticker per
// polled section; a tick issues the matching GET through the registry,
// which absorbs the reply and emits the resulting change events exactly as
// it would for a push.
//
// # Smart caching
//
// Polling a device whose pushes are flowing is wasted traffic. With smart
// caching on, a tick first looks at when the section was last refreshed,
// by push, poll, or command echo alike, and skips the GET while that is
// younger than the configured maximum age. A device that goes quiet is
// polled again within one interval plus the maximum age.
//
// # Device list watching
//
// WatchDeviceList polls the account's cloud listing at a longer interval
// and emits one event per poll describing rows that appeared, disappeared,
// or changed since the previous snapshot. The watcher only reports; it is
// the caller's decision whether to initialize newcomers or remove the
// departed.
//
// Poll failures are forwarded as error events and never stop the ticker;
// a device that misses one poll is simply polled again next tick.
package subscription
